package oracle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anonymous-cityseeker/CitySeeker/internal/graph"
)

func TestURLImages(t *testing.T) {
	s, err := NewURLImages("https://img.example/panos/")
	require.NoError(t, err)

	vp := graph.ViewPoint{Position: graph.Position{Filename: "a b.jpg"}}
	pano, err := s.Panorama(context.Background(), vp)
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/panos/a%20b.jpg", pano)

	persp, err := s.Perspective(context.Background(), vp, 89.6)
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/panos/a%20b.jpg?heading=90", persp)

	_, err = s.Panorama(context.Background(), graph.ViewPoint{})
	assert.Error(t, err)
}

func TestNewURLImagesRejectsRelative(t *testing.T) {
	_, err := NewURLImages("/var/panos")
	assert.Error(t, err)
	_, err = NewURLImages("ftp://host/panos")
	assert.Error(t, err)
}
