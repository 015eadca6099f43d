package assets

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
)

// ImageInfo is the result of getImageInfo.
type ImageInfo struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Path   string `json:"path"`
	Type   string `json:"type"`
}

// ImageInfo reads the dimensions and format of src. Results are cached.
func (r *Resolver) ImageInfo(ctx context.Context, appID, env, src string) (ImageInfo, error) {
	if src == "" {
		return ImageInfo{}, errs.New(errs.KindMalformedInput, "assets.ImageInfo", "src is required")
	}
	key := appID + "/" + env + "/" + src
	if info, ok := r.cache.Get(key); ok {
		return info, nil
	}

	var (
		data []byte
		path string
		err  error
	)
	if Remote(src) {
		path = src
		data, err = r.fetcher.fetch(ctx, src)
	} else {
		path, err = r.SrcToRealURL(appID, env, src)
		if err == nil {
			data, err = r.readLocal(appID, env, src)
		}
	}
	if err != nil {
		return ImageInfo{}, err
	}

	info, err := decode(data)
	if err != nil {
		r.logger.Debug("image decode failed", zap.String("src", src), zap.Error(err))
		return ImageInfo{}, err
	}
	info.Path = path
	r.cache.Add(key, info)
	return info, nil
}

func (r *Resolver) readLocal(appID, env, src string) ([]byte, error) {
	full, err := r.local(appID, env, src)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.New(errs.KindNotFound, "assets.ImageInfo", "%s not found", src)
		}
		return nil, errs.Wrap(errs.KindInternal, "assets.ImageInfo", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, r.cfg.MaxImageBytes))
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "assets.ImageInfo", err)
	}
	return data, nil
}

func decode(data []byte) (ImageInfo, error) {
	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return ImageInfo{}, errs.New(errs.KindMalformedInput, "assets.ImageInfo", "content is %s, not an image", mtype.String())
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return ImageInfo{}, errs.New(errs.KindMalformedInput, "assets.ImageInfo", "unsupported image type %s", mtype.String())
	}
	return ImageInfo{Width: cfg.Width, Height: cfg.Height, Type: format}, nil
}

// AppResolver resolves sources for one app. It satisfies the canvas
// channel's image resolver.
type AppResolver struct {
	r     *Resolver
	appID string
	env   string
}

// SrcToRealURL resolves src for the bound app.
func (a *AppResolver) SrcToRealURL(src string) (string, error) {
	return a.r.SrcToRealURL(a.appID, a.env, src)
}

// ImageInfo inspects src for the bound app.
func (a *AppResolver) ImageInfo(ctx context.Context, src string) (ImageInfo, error) {
	return a.r.ImageInfo(ctx, a.appID, a.env, src)
}

// ResolveImage checks that src is a readable image and returns the URL the
// renderer should draw from.
func (a *AppResolver) ResolveImage(ctx context.Context, src string) (string, error) {
	info, err := a.ImageInfo(ctx, src)
	if err != nil {
		return "", err
	}
	return info.Path, nil
}
