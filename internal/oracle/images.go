package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/anonymous-cityseeker/CitySeeker/internal/graph"
)

// URLImages serves panoramas from an image server laid out as
// <base>/<filename>. Perspective crops are requested with a heading query
// parameter and rendered server-side.
type URLImages struct {
	base *url.URL
}

// NewURLImages parses base, which must be an absolute http(s) URL.
func NewURLImages(base string) (*URLImages, error) {
	u, err := url.Parse(strings.TrimSuffix(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("image base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.New("image base url must be http or https")
	}
	return &URLImages{base: u}, nil
}

func (s *URLImages) Panorama(_ context.Context, vp graph.ViewPoint) (string, error) {
	if vp.Filename == "" {
		return "", errors.New("viewpoint has no filename")
	}
	return s.base.JoinPath(vp.Filename).String(), nil
}

func (s *URLImages) Perspective(ctx context.Context, vp graph.ViewPoint, heading float64) (string, error) {
	pano, err := s.Panorama(ctx, vp)
	if err != nil {
		return "", err
	}
	u, _ := url.Parse(pano)
	q := u.Query()
	q.Set("heading", fmt.Sprintf("%.0f", heading))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
