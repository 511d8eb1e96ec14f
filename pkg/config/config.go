// Zaparoo Imager
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Zaparoo Imager.
//
// Zaparoo Imager is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Zaparoo Imager is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Zaparoo Imager.  If not, see <http://www.gnu.org/licenses/>.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ZaparooProject/zaparoo-imager/pkg/helpers/syncutil"
	"github.com/google/uuid"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const (
	SchemaVersion = 1
	CfgEnv        = "ZAPAROO_IMAGER_CFG"

	BackendLsblk = "lsblk"
	BackendGhw   = "ghw"

	DefaultCatalogURL      = "https://downloads.raspberrypi.com/os_list_imagingutility_v4.json"
	DefaultFetchRetries    = 5
	DefaultBackoffInitial  = 500 * time.Millisecond
	DefaultBackoffMax      = 30 * time.Second
	DefaultFetchTimeout    = 30 * time.Second
	DefaultChunkSize       = 1 << 20
	DefaultQueueDepth      = 4
	DefaultVerifyBlockSize = 64 << 10
	DefaultDebugImageSize  = 4 << 30

	minChunkSize = 4 << 10
)

var ErrSchemaMismatch = errors.New("schema version mismatch")

type Values struct {
	Catalog      Catalog  `toml:"catalog"`
	Devices      Devices  `toml:"devices"`
	Fetch        Fetch    `toml:"fetch"`
	InstallID    string   `toml:"install_id"`
	Pipeline     Pipeline `toml:"pipeline"`
	Verify       Verify   `toml:"verify"`
	ConfigSchema int      `toml:"config_schema"`
	DebugLogging bool     `toml:"debug_logging"`
}

type Catalog struct {
	URL string `toml:"url"`
}

type Fetch struct {
	Retries          int `toml:"retries"`
	BackoffInitialMs int `toml:"backoff_initial_ms"`
	BackoffMaxMs     int `toml:"backoff_max_ms"`
	TimeoutSeconds   int `toml:"timeout_seconds"`
}

type Pipeline struct {
	ChunkSize  int `toml:"chunk_size"`
	QueueDepth int `toml:"queue_depth"`
}

type Verify struct {
	BlockSize int  `toml:"block_size"`
	Enabled   bool `toml:"enabled"`
}

type Devices struct {
	Backend        string `toml:"backend"`
	DebugImage     string `toml:"debug_image,omitempty"`
	DebugImageSize int64  `toml:"debug_image_size"`
}

var BaseDefaults = Values{
	ConfigSchema: SchemaVersion,
	Catalog: Catalog{
		URL: DefaultCatalogURL,
	},
	Fetch: Fetch{
		Retries:          DefaultFetchRetries,
		BackoffInitialMs: int(DefaultBackoffInitial / time.Millisecond),
		BackoffMaxMs:     int(DefaultBackoffMax / time.Millisecond),
		TimeoutSeconds:   int(DefaultFetchTimeout / time.Second),
	},
	Pipeline: Pipeline{
		ChunkSize:  DefaultChunkSize,
		QueueDepth: DefaultQueueDepth,
	},
	Verify: Verify{
		Enabled:   true,
		BlockSize: DefaultVerifyBlockSize,
	},
	Devices: Devices{
		Backend:        BackendLsblk,
		DebugImageSize: DefaultDebugImageSize,
	},
}

type Instance struct {
	fs       afero.Fs
	auth     map[string]CredentialEntry
	cfgPath  string
	authPath string
	vals     Values
	defaults Values
	mu       syncutil.RWMutex
}

// NewConfig loads config.toml from configDir, or from the path in
// ZAPAROO_IMAGER_CFG if set, writing the defaults first when no file exists.
//
//nolint:gocritic // config struct copied for immutability
func NewConfig(fs afero.Fs, configDir string, defaults Values) (*Instance, error) {
	cfgPath := os.Getenv(CfgEnv)
	log.Debug().Msgf("env config path: %s", cfgPath)

	if cfgPath == "" {
		cfgPath = filepath.Join(configDir, CfgFile)
	}

	cfg := Instance{
		fs:       fs,
		cfgPath:  cfgPath,
		authPath: filepath.Join(filepath.Dir(cfgPath), AuthFile),
		vals:     defaults,
		defaults: defaults,
	}

	exists, err := afero.Exists(fs, cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if !exists {
		log.Info().Msg("saving new default config to disk")

		err = fs.MkdirAll(filepath.Dir(cfgPath), 0o750)
		if err != nil {
			return nil, fmt.Errorf("failed to create config directory: %w", err)
		}

		err = cfg.Save()
		if err != nil {
			return nil, err
		}
	}

	err = cfg.Load()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Instance) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	data, err := afero.ReadFile(c.fs, c.cfgPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// fields missing from the file keep their defaults
	newVals := c.defaults
	err = toml.Unmarshal(data, &newVals)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if newVals.ConfigSchema != SchemaVersion {
		log.Error().Msgf(
			"schema version mismatch: got %d, expecting %d",
			newVals.ConfigSchema,
			SchemaVersion,
		)
		return ErrSchemaMismatch
	}

	c.vals = newVals
	c.auth = nil

	authData, err := afero.ReadFile(c.fs, c.authPath)
	switch {
	case err == nil:
		c.auth = LoadAuthFromData(authData)
		log.Info().Msgf("loaded %d auth entries", len(c.auth))
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("failed to read auth file: %w", err)
	}

	return nil
}

func (c *Instance) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	c.vals.ConfigSchema = SchemaVersion

	if c.vals.InstallID == "" {
		c.vals.InstallID = uuid.New().String()
		log.Info().Msgf("generated new install id: %s", c.vals.InstallID)
	}

	data, err := toml.Marshal(&c.vals)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := afero.WriteFile(c.fs, c.cfgPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Instance) InstallID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.InstallID
}

func (c *Instance) DebugLogging() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.DebugLogging
}

func (c *Instance) SetDebugLogging(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.DebugLogging = enabled
}

func (c *Instance) CatalogURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Catalog.URL
}

// FetchRetries is the number of retries after the first failed attempt of
// a fetch. Negative values are treated as zero.
func (c *Instance) FetchRetries() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return max(c.vals.Fetch.Retries, 0)
}

func (c *Instance) BackoffInitial() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Fetch.BackoffInitialMs <= 0 {
		return DefaultBackoffInitial
	}
	return time.Duration(c.vals.Fetch.BackoffInitialMs) * time.Millisecond
}

func (c *Instance) BackoffMax() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Fetch.BackoffMaxMs <= 0 {
		return DefaultBackoffMax
	}
	return time.Duration(c.vals.Fetch.BackoffMaxMs) * time.Millisecond
}

func (c *Instance) FetchTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Fetch.TimeoutSeconds <= 0 {
		return DefaultFetchTimeout
	}
	return time.Duration(c.vals.Fetch.TimeoutSeconds) * time.Second
}

// ChunkSize is the pipeline chunk size in bytes, never smaller than 4 KiB.
func (c *Instance) ChunkSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Pipeline.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return max(c.vals.Pipeline.ChunkSize, minChunkSize)
}

func (c *Instance) QueueDepth() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Pipeline.QueueDepth <= 0 {
		return DefaultQueueDepth
	}
	return c.vals.Pipeline.QueueDepth
}

func (c *Instance) VerifyEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Verify.Enabled
}

func (c *Instance) SetVerifyEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Verify.Enabled = enabled
}

func (c *Instance) VerifyBlockSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Verify.BlockSize <= 0 {
		return DefaultVerifyBlockSize
	}
	return c.vals.Verify.BlockSize
}

func (c *Instance) DevicesBackend() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Devices.Backend == "" {
		return BackendLsblk
	}
	return c.vals.Devices.Backend
}

// DebugImage returns the loopback image path, relative names resolving
// against dataDir.
func (c *Instance) DebugImage(dataDir string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p := c.vals.Devices.DebugImage
	if p == "" {
		p = DebugImageFile
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dataDir, p)
}

func (c *Instance) DebugImageSize() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.vals.Devices.DebugImageSize <= 0 {
		return DefaultDebugImageSize
	}
	return c.vals.Devices.DebugImageSize
}

// LookupAuth returns credentials from auth.toml matching reqURL, or nil.
func (c *Instance) LookupAuth(reqURL string) *CredentialEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return LookupAuth(c.auth, reqURL)
}
