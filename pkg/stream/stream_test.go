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

package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/ZaparooProject/zaparoo-imager/pkg/models"
	"github.com/ZaparooProject/zaparoo-imager/pkg/progress"
	"github.com/ZaparooProject/zaparoo-imager/pkg/shared/httpclient"
	"github.com/ZaparooProject/zaparoo-imager/pkg/testing/helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// keep-alive connections to httptest servers outlive single tests
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

func testOptions(counters *progress.Counters) Options {
	return Options{
		Counters:       counters,
		ChunkSize:      4096,
		QueueDepth:     2,
		BlockSize:      1024,
		Retries:        3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	}
}

// collect is a Sink that keeps everything it receives.
type collect struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (c *collect) sink(ctx context.Context, in <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-in:
			if !ok {
				return nil
			}
			c.mu.Lock()
			c.buf.Write(chunk)
			c.mu.Unlock()
		}
	}
}

func (c *collect) bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Bytes()
}

func localPipeline(t helpers.TestingT, payload []byte, kind models.Compression, opts Options) *Pipeline {
	fs := helpers.NewMemoryFS()
	require.NoError(t, fs.CreateFile("/images/os.img", helpers.Compress(t, kind, payload)))
	src := models.ImageSource{
		Origin:      models.OriginLocal,
		Location:    "/images/os.img",
		Compression: kind,
	}
	return New(src, NewOpener(&src, nil, fs.Fs), opts)
}

func TestPipeline_RoundTripEveryCompression(t *testing.T) {
	t.Parallel()

	payload := helpers.Pattern(50_000)

	for _, kind := range models.Compressions {
		t.Run(kind.String(), func(t *testing.T) {
			t.Parallel()

			counters := &progress.Counters{}
			out := &collect{}
			res, err := localPipeline(t, payload, kind, testOptions(counters)).Run(context.Background(), out.sink)
			require.NoError(t, err)

			assert.Equal(t, payload, out.bytes())
			assert.Equal(t, helpers.SHA256(payload), res.Digest)
			assert.Equal(t, int64(len(payload)), res.Length)
			assert.Equal(t, int64(len(payload)), counters.Decoded.Load())
			assert.Len(t, res.Index.Blocks, 49)
		})
	}
}

func TestPropertyPipelineRoundTrip(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		payload := rapid.SliceOfN(rapid.Byte(), 0, 20_000).Draw(t, "payload")
		kind := rapid.SampledFrom(models.Compressions).Draw(t, "kind")
		opts := testOptions(nil)
		opts.ChunkSize = rapid.IntRange(1, 3000).Draw(t, "chunk")
		opts.QueueDepth = rapid.IntRange(1, 4).Draw(t, "depth")

		out := &collect{}
		res, err := localPipeline(t, payload, kind, opts).Run(context.Background(), out.sink)
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if !bytes.Equal(payload, out.bytes()) {
			t.Fatalf("%s: output differs from payload", kind)
		}
		if res.Digest != helpers.SHA256(payload) {
			t.Fatalf("%s: digest mismatch", kind)
		}
	})
}

func remoteSource(url string, kind models.Compression, size int) models.ImageSource {
	return models.ImageSource{
		Origin:         models.OriginRemote,
		Location:       url,
		Compression:    kind,
		CompressedSize: uint64(size),
	}
}

func TestPipeline_RetriesTransientStatus(t *testing.T) {
	t.Parallel()

	payload := helpers.Pattern(30_000)
	data := helpers.Compress(t, models.CompressionGzip, payload)
	srv := helpers.NewImageServer(t, data, helpers.ImageServerOptions{
		FailStatus: http.StatusServiceUnavailable,
		FailCount:  2,
	})

	src := remoteSource(srv.URL, models.CompressionGzip, len(data))
	client := httpclient.NewClient(nil)
	out := &collect{}
	res, err := New(src, NewOpener(&src, client, nil), testOptions(nil)).Run(context.Background(), out.sink)
	require.NoError(t, err)

	assert.Equal(t, payload, out.bytes())
	assert.Equal(t, helpers.SHA256(payload), res.Digest)
	assert.Equal(t, 3, srv.Gets())
}

func TestPipeline_ResumesFromOffsetAfterDroppedConnection(t *testing.T) {
	t.Parallel()

	payload := helpers.Pattern(64_000)
	srv := helpers.NewImageServer(t, payload, helpers.ImageServerOptions{TruncateCount: 2})

	src := remoteSource(srv.URL, models.CompressionNone, len(payload))
	counters := &progress.Counters{}
	out := &collect{}
	_, err := New(src, NewOpener(&src, httpclient.NewClient(nil), nil), testOptions(counters)).
		Run(context.Background(), out.sink)
	require.NoError(t, err)

	assert.Equal(t, payload, out.bytes())
	assert.Equal(t, int64(len(payload)), counters.Fetched.Load())
	ranges := srv.Ranges()
	require.Len(t, ranges, 3)
	assert.Empty(t, ranges[0])
	assert.NotEmpty(t, ranges[1], "retry resumes with a range request")
}

func TestPipeline_ResumeWithoutRangeSupportSkipsPrefix(t *testing.T) {
	t.Parallel()

	payload := helpers.Pattern(20_000)
	srv := helpers.NewImageServer(t, payload, helpers.ImageServerOptions{
		TruncateCount: 1,
		IgnoreRange:   true,
	})

	src := remoteSource(srv.URL, models.CompressionNone, len(payload))
	out := &collect{}
	_, err := New(src, NewOpener(&src, httpclient.NewClient(nil), nil), testOptions(nil)).
		Run(context.Background(), out.sink)
	require.NoError(t, err)
	assert.Equal(t, payload, out.bytes())
}

func TestPipeline_PermanentStatusFailsWithoutRetry(t *testing.T) {
	t.Parallel()

	srv := helpers.NewImageServer(t, []byte("x"), helpers.ImageServerOptions{
		FailStatus: http.StatusNotFound,
		FailCount:  100,
	})

	src := remoteSource(srv.URL, models.CompressionNone, 0)
	_, err := New(src, NewOpener(&src, httpclient.NewClient(nil), nil), testOptions(nil)).
		Run(context.Background(), Drain)

	require.ErrorIs(t, err, models.ErrFetch)
	require.ErrorIs(t, err, models.ErrSourceUnavailable)
	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusNotFound, serr.Code)
	assert.Equal(t, 1, srv.Gets())
}

func TestPipeline_ExhaustedRetries(t *testing.T) {
	t.Parallel()

	srv := helpers.NewImageServer(t, []byte("x"), helpers.ImageServerOptions{
		FailStatus: http.StatusBadGateway,
		FailCount:  100,
	})

	src := remoteSource(srv.URL, models.CompressionNone, 0)
	_, err := New(src, NewOpener(&src, httpclient.NewClient(nil), nil), testOptions(nil)).
		Run(context.Background(), Drain)

	require.ErrorIs(t, err, models.ErrFetch)
	assert.Equal(t, 4, srv.Gets(), "first attempt plus three retries")
}

func TestPipeline_CorruptInput(t *testing.T) {
	t.Parallel()

	for _, kind := range []models.Compression{models.CompressionGzip, models.CompressionXz, models.CompressionZstd} {
		t.Run(kind.String(), func(t *testing.T) {
			t.Parallel()

			data := helpers.Compress(t, kind, helpers.Pattern(10_000))
			data = data[:len(data)/2]

			fs := helpers.NewMemoryFS()
			require.NoError(t, fs.CreateFile("/img", data))
			src := models.ImageSource{Location: "/img", Compression: kind}

			_, err := New(src, NewOpener(&src, nil, fs.Fs), testOptions(nil)).Run(context.Background(), Drain)
			require.ErrorIs(t, err, models.ErrCorruptStream)
			se, ok := models.AsStageError(err)
			require.True(t, ok)
			assert.Equal(t, models.StageDecode, se.Stage)
		})
	}
}

func TestPipeline_SinkErrorWins(t *testing.T) {
	t.Parallel()

	boom := errors.New("device gone")
	sink := func(ctx context.Context, in <-chan []byte) error {
		<-in
		return boom
	}

	_, err := localPipeline(t, helpers.Pattern(100_000), models.CompressionXz, testOptions(nil)).
		Run(context.Background(), sink)
	require.ErrorIs(t, err, boom)
}

func TestPipeline_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	sink := func(ctx context.Context, in <-chan []byte) error {
		<-in
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}

	_, err := localPipeline(t, helpers.Pattern(100_000), models.CompressionZstd, testOptions(nil)).Run(ctx, sink)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCheckDigest(t *testing.T) {
	t.Parallel()

	res := &Result{Digest: "abc", Length: 10}
	require.NoError(t, CheckDigest(res, ""))
	require.NoError(t, CheckDigest(res, "abc"))

	err := CheckDigest(res, "def")
	require.ErrorIs(t, err, models.ErrVerificationFailed)
}

func TestChanReader_PartialChunks(t *testing.T) {
	t.Parallel()

	ch := make(chan []byte, 3)
	ch <- []byte("he")
	ch <- []byte("llo ")
	ch <- []byte("world")
	close(ch)

	got, err := io.ReadAll(&chanReader{ctx: context.Background(), ch: ch})
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}

func TestContentRangeStart(t *testing.T) {
	t.Parallel()

	start, ok := contentRangeStart("bytes 100-199/200")
	require.True(t, ok)
	assert.Equal(t, int64(100), start)

	_, ok = contentRangeStart("items 1-2")
	assert.False(t, ok)
}
