package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/awalterschulze/gographviz"
)

// #region import
// ImportStats summarises a DOT import.
type ImportStats struct {
	ViewPoints int
	Edges      int
	Derived    int // viewpoints whose walkable headings came from edges
}

// ImportDOT loads viewpoints and edges from a Graphviz digraph. Nodes carry
// longitude and latitude attributes and optionally heading and
// walkable_headings (a JSON array). Edges may carry azimuth and distance;
// missing values are computed from the endpoint coordinates.
func (g *GraphStore) ImportDOT(ctx context.Context, src string) (ImportStats, error) {
	ast, err := gographviz.ParseString(src)
	if err != nil {
		return ImportStats{}, fmt.Errorf("failed to parse DOT: %w", err)
	}
	dg := gographviz.NewGraph()
	if err := gographviz.Analyse(ast, dg); err != nil {
		return ImportStats{}, fmt.Errorf("failed to analyze DOT: %w", err)
	}

	var stats ImportStats
	for _, n := range dg.Nodes.Nodes {
		vp, err := viewPointFromAttrs(unquote(n.Name), n.Attrs)
		if err != nil {
			return stats, err
		}
		if err := g.AddViewPoint(ctx, vp); err != nil {
			return stats, err
		}
		stats.ViewPoints++
	}

	for _, e := range dg.Edges.Edges {
		src, dst := unquote(e.Src), unquote(e.Dst)
		az, hasAz, err := floatAttr(e.Attrs, "azimuth")
		if err != nil {
			return stats, fmt.Errorf("edge %s->%s: %w", src, dst, err)
		}
		dist, hasDist, err := floatAttr(e.Attrs, "distance")
		if err != nil {
			return stats, fmt.Errorf("edge %s->%s: %w", src, dst, err)
		}
		if !hasAz || !hasDist {
			derived, err := g.Connect(ctx, src, dst)
			if err != nil {
				return stats, fmt.Errorf("edge %s->%s: %w", src, dst, err)
			}
			if hasAz {
				derived.Azimuth = az
			}
			if hasDist {
				derived.Distance = dist
			}
			az, dist = derived.Azimuth, derived.Distance
		}
		if err := g.AddEdge(ctx, Edge{Source: src, Target: dst, Azimuth: az, Distance: dist}); err != nil {
			return stats, err
		}
		stats.Edges++
	}

	derived, err := g.DeriveWalkableHeadings(ctx)
	if err != nil {
		return stats, err
	}
	stats.Derived = derived
	return stats, nil
}

func viewPointFromAttrs(name string, attrs gographviz.Attrs) (ViewPoint, error) {
	vp := ViewPoint{Position: Position{Filename: name}}
	lon, ok, err := floatAttr(attrs, "longitude")
	if err != nil || !ok {
		return vp, fmt.Errorf("node %s: missing or invalid longitude", name)
	}
	lat, ok, err := floatAttr(attrs, "latitude")
	if err != nil || !ok {
		return vp, fmt.Errorf("node %s: missing or invalid latitude", name)
	}
	vp.Longitude, vp.Latitude = lon, lat

	if h, ok, err := floatAttr(attrs, "heading"); err != nil {
		return vp, fmt.Errorf("node %s: %w", name, err)
	} else if ok {
		vp.Heading = h
	}
	if raw := getAttr(attrs, "walkable_headings"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &vp.WalkableHeadings); err != nil {
			return vp, fmt.Errorf("node %s walkable_headings: %w", name, err)
		}
	}
	return vp, nil
}

// #endregion import

// #region export
// ExportDOT renders the stored graph as a Graphviz digraph that ImportDOT can
// read back.
func (g *GraphStore) ExportDOT(ctx context.Context, name string) (string, error) {
	vps, err := g.ViewPoints(ctx)
	if err != nil {
		return "", err
	}
	edges, err := g.Edges(ctx)
	if err != nil {
		return "", err
	}

	dg := gographviz.NewGraph()
	if err := dg.SetName(name); err != nil {
		return "", err
	}
	if err := dg.SetDir(true); err != nil {
		return "", err
	}
	for _, vp := range vps {
		headings, _ := json.Marshal(vp.WalkableHeadings)
		attrs := map[string]string{
			"longitude":         formatFloat(vp.Longitude),
			"latitude":          formatFloat(vp.Latitude),
			"heading":           formatFloat(vp.Heading),
			"walkable_headings": strconv.Quote(string(headings)),
		}
		if err := dg.AddNode(name, strconv.Quote(vp.Filename), attrs); err != nil {
			return "", fmt.Errorf("export node %s: %w", vp.Filename, err)
		}
	}
	for _, e := range edges {
		attrs := map[string]string{
			"azimuth":  formatFloat(e.Azimuth),
			"distance": formatFloat(e.Distance),
		}
		if err := dg.AddEdge(strconv.Quote(e.Source), strconv.Quote(e.Target), true, attrs); err != nil {
			return "", fmt.Errorf("export edge %s->%s: %w", e.Source, e.Target, err)
		}
	}
	return dg.String(), nil
}

// #endregion export

// #region helpers
func getAttr(attrs gographviz.Attrs, key string) string {
	val, ok := attrs[gographviz.Attr(key)]
	if !ok {
		return ""
	}
	return unquote(strings.TrimSpace(val))
}

func floatAttr(attrs gographviz.Attrs, key string) (float64, bool, error) {
	raw := getAttr(attrs, key)
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("attribute %s=%q: %w", key, raw, err)
	}
	return v, true, nil
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
		return s[1 : len(s)-1]
	}
	return s
}

func formatFloat(f float64) string {
	return strconv.Quote(strconv.FormatFloat(f, 'f', -1, 64))
}

// #endregion helpers
