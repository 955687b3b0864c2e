package model

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mbd888/fraudscope/internal/metrics"
	"github.com/mbd888/fraudscope/internal/testutil"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadBundle_Linear(t *testing.T) {
	dir := testutil.BundleDir(t)

	b, err := LoadBundle(dir)
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	assert.Equal(t, "test-bundle", b.Name)
	assert.Equal(t, "test-1", b.Version)
	assert.Equal(t, 0.5, b.Threshold)
	assert.Equal(t, KindLinear, b.Model.Kind)
	assert.NotEmpty(t, b.FeatureNames)
	assert.Len(t, b.Encoder.FeatureNames(), len(b.FeatureNames)-15)

	info := b.Info()
	assert.Equal(t, len(b.FeatureNames), info.FeatureCount)
	assert.Equal(t, "linear", info.Kind)
	assert.Contains(t, info.Columns, "transaction type")
}

func TestLoadBundle_Errors(t *testing.T) {
	t.Run("missing manifest", func(t *testing.T) {
		_, err := LoadBundle(t.TempDir())
		assert.ErrorContains(t, err, "read manifest")
	})

	t.Run("unknown kind", func(t *testing.T) {
		dir := testutil.BundleDir(t)
		rewriteManifest(t, dir, "name: x\nthreshold: 0.5\nmodel:\n  kind: forest\n  path: weights.json\n")
		_, err := LoadBundle(dir)
		assert.ErrorIs(t, err, ErrUnknownKind)
	})

	t.Run("threshold out of range", func(t *testing.T) {
		dir := testutil.BundleDir(t)
		rewriteManifest(t, dir, "name: x\nthreshold: 1.5\nmodel:\n  kind: linear\n  path: weights.json\n")
		_, err := LoadBundle(dir)
		assert.ErrorContains(t, err, "outside [0,1]")
	})

	t.Run("missing threshold", func(t *testing.T) {
		dir := testutil.BundleDir(t)
		rewriteManifest(t, dir, "name: x\nmodel:\n  kind: linear\n  path: weights.json\n")
		_, err := LoadBundle(dir)
		assert.ErrorContains(t, err, "threshold is required")
	})

	t.Run("explicit zero threshold", func(t *testing.T) {
		dir := testutil.BundleDir(t)
		rewriteManifest(t, dir, "name: x\nthreshold: 0\nmodel:\n  kind: linear\n  path: weights.json\n")
		b, err := LoadBundle(dir)
		require.NoError(t, err)
		assert.Zero(t, b.Threshold)
		require.NoError(t, b.Close())
	})

	t.Run("missing model path", func(t *testing.T) {
		dir := testutil.BundleDir(t)
		rewriteManifest(t, dir, "name: x\nthreshold: 0.5\nmodel:\n  kind: linear\n")
		_, err := LoadBundle(dir)
		assert.ErrorContains(t, err, "model.path is required")
	})

	t.Run("onnx without runtime file", func(t *testing.T) {
		dir := testutil.BundleDir(t)
		rewriteManifest(t, dir, "name: x\nthreshold: 0.5\nmodel:\n  kind: onnx\n  path: model.onnx\n")
		_, err := LoadBundle(dir)
		assert.ErrorContains(t, err, "model file missing")
	})
}

func TestLinear_PredictProba(t *testing.T) {
	names := []string{"a", "b", "c"}
	l, err := NewLinear(-1, map[string]float64{"a": 2, "c": -1}, names)
	require.NoError(t, err)

	p, err := l.PredictProba(context.Background(), []float32{1, 100, 0})
	require.NoError(t, err)
	assert.InDelta(t, sigmoid(1), p, 1e-12)

	p, err = l.PredictProba(context.Background(), []float32{0, 0, 0})
	require.NoError(t, err)
	assert.InDelta(t, sigmoid(-1), p, 1e-12)

	_, err = l.PredictProba(context.Background(), []float32{1})
	assert.ErrorIs(t, err, ErrInputSize)

	_, err = NewLinear(0, map[string]float64{"zzz": 1}, names)
	assert.ErrorContains(t, err, "unknown feature")
}

func TestBundle_WithThreshold(t *testing.T) {
	b, err := LoadBundle(testutil.BundleDir(t))
	require.NoError(t, err)

	cp := b.WithThreshold(0.9)
	assert.Equal(t, 0.9, cp.Threshold)
	assert.Equal(t, 0.5, b.Threshold)
	assert.Same(t, b.Classifier, cp.Classifier)
}

func TestResolveSharedLibraryPath_Env(t *testing.T) {
	t.Setenv("ONNXRUNTIME_SHARED_LIBRARY_PATH", "/custom/libonnxruntime.so")
	assert.Equal(t, "/custom/libonnxruntime.so", resolveSharedLibraryPath(t.TempDir()))
}

func TestResolveSharedLibraryPath_BundleDir(t *testing.T) {
	t.Setenv("ONNXRUNTIME_SHARED_LIBRARY_PATH", "")
	dir := t.TempDir()
	lib := filepath.Join(dir, "libonnxruntime.so")
	require.NoError(t, os.WriteFile(lib, nil, 0o600))
	assert.Equal(t, lib, resolveSharedLibraryPath(dir))
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := testutil.BundleDir(t)
	reloaded := make(chan *Bundle, 4)

	w, err := NewWatcher(dir, 50*time.Millisecond, func(b *Bundle) {
		select {
		case reloaded <- b:
		default:
			_ = b.Close()
		}
	}, quietLogger())
	require.NoError(t, err)
	w.Start(context.Background())

	next := testutil.DefaultBundle()
	next.Version = "test-2"
	testutil.WriteBundle(t, dir, next)

	deadline := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case b := <-reloaded:
			// A reload may fire between file writes; wait for the final version.
			done = b.Version == "test-2"
			_ = b.Close()
		case <-deadline:
			t.Fatal("bundle was not reloaded")
		}
	}

	w.Stop()
}

func TestWatcher_FailedReloadKeepsCurrent(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := testutil.BundleDir(t)
	before := promtest.ToFloat64(metrics.ModelReloadsTotal.WithLabelValues("error"))

	called := make(chan struct{}, 1)
	w, err := NewWatcher(dir, 50*time.Millisecond, func(*Bundle) {
		select {
		case called <- struct{}{}:
		default:
		}
	}, quietLogger())
	require.NoError(t, err)
	w.Start(context.Background())

	rewriteManifest(t, dir, "::: not yaml")

	assert.Eventually(t, func() bool {
		return promtest.ToFloat64(metrics.ModelReloadsTotal.WithLabelValues("error")) > before
	}, 5*time.Second, 20*time.Millisecond)

	w.Stop()
	select {
	case <-called:
		t.Fatal("callback must not run for a broken bundle")
	default:
	}
}

func TestWatcher_MissingDir(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "nope"), 0, func(*Bundle) {}, quietLogger())
	assert.Error(t, err)
}

func rewriteManifest(t *testing.T, dir, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte(body), 0o600))
}
