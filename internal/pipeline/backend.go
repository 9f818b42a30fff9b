package pipeline

import (
	"context"
	"time"

	"lipsync/internal/config"
	"lipsync/internal/face"
	"lipsync/internal/facecache"
	"lipsync/internal/inference"
	"lipsync/internal/logging"
	"lipsync/internal/services"
	"lipsync/internal/sidecar"
)

// backend returns the detector and model for one run, dialing the sidecar when
// the Runner was not given both.
func (r *Runner) backend(ctx context.Context, cfg *config.Config) (face.Detector, inference.Model, func(), error) {
	if r.Detector != nil && r.Model != nil {
		return r.Detector, r.Model, func() {}, nil
	}
	if err := cfg.RequireSidecar(); err != nil {
		return nil, nil, nil, services.Wrap(services.ErrConfiguration, "pipeline", "sidecar", "", err)
	}
	timeout := time.Duration(cfg.Sidecar.TimeoutSeconds) * time.Second
	client, err := sidecar.Dial(ctx, cfg.Sidecar.URL, timeout, r.Logger)
	if err != nil {
		return nil, nil, nil, services.Wrap(services.ErrExternalTool, "pipeline", "sidecar", "connect", err)
	}
	var (
		detector face.Detector   = client
		model    inference.Model = client
	)
	if r.Detector != nil {
		detector = r.Detector
	}
	if r.Model != nil {
		model = r.Model
	}
	return detector, model, func() { _ = client.Close() }, nil
}

// faceCache returns the detection cache for one run, or nil when caching is
// off or the database cannot be opened.
func (r *Runner) faceCache(ctx context.Context, cfg *config.Config) (face.Cache, func()) {
	if r.Cache != nil {
		return r.Cache, func() {}
	}
	if !cfg.FaceCache.Enabled {
		return nil, func() {}
	}
	store, err := facecache.Open(cfg.FaceCache.Path)
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, r.Logger), "face cache unavailable", "face_cache_open_failed",
			logging.String("path", cfg.FaceCache.Path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "detection runs without the cache"),
			logging.String(logging.FieldErrorHint, "check face_cache.path or delete the database"),
		)
		return nil, func() {}
	}
	store.SetLogger(r.Logger)
	return store, func() { _ = store.Close() }
}
