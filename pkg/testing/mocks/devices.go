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

package mocks

import (
	"context"

	"github.com/ZaparooProject/zaparoo-imager/pkg/devices"
	"github.com/stretchr/testify/mock"
)

// MockLister is a testify mock for devices.Lister.
type MockLister struct {
	mock.Mock
}

func (m *MockLister) List(ctx context.Context) ([]devices.RawDevice, error) {
	args := m.Called(ctx)
	if devs, ok := args.Get(0).([]devices.RawDevice); ok {
		//nolint:wrapcheck // Mock returns are already wrapped by caller
		return devs, args.Error(1)
	}
	//nolint:wrapcheck // Mock returns are already wrapped by caller
	return nil, args.Error(1)
}

// MockMountTable is a testify mock for devices.MountTable.
type MockMountTable struct {
	mock.Mock
}

func (m *MockMountTable) SystemSources(ctx context.Context) (map[string]string, error) {
	args := m.Called(ctx)
	if sources, ok := args.Get(0).(map[string]string); ok {
		//nolint:wrapcheck // Mock returns are already wrapped by caller
		return sources, args.Error(1)
	}
	//nolint:wrapcheck // Mock returns are already wrapped by caller
	return nil, args.Error(1)
}
