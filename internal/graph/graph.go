package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/anonymous-cityseeker/CitySeeker/internal/compass"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS viewpoints (
    filename          TEXT PRIMARY KEY,
    longitude         REAL NOT NULL,
    latitude          REAL NOT NULL,
    heading           REAL NOT NULL DEFAULT 0,
    walkable_headings TEXT NOT NULL DEFAULT '[]',
    visited           INTEGER NOT NULL DEFAULT 0,
    attrs             TEXT NOT NULL DEFAULT '{}',
    created_at        TEXT NOT NULL,
    updated_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_viewpoints_lat ON viewpoints(latitude);

CREATE TABLE IF NOT EXISTS viewpoint_edges (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    source_id   TEXT NOT NULL,
    target_id   TEXT NOT NULL,
    azimuth     REAL NOT NULL,
    distance    REAL NOT NULL,
    attrs       TEXT NOT NULL DEFAULT '{}',
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL,
    UNIQUE(source_id, target_id)
);
CREATE INDEX IF NOT EXISTS idx_vp_edges_source ON viewpoint_edges(source_id);
CREATE INDEX IF NOT EXISTS idx_vp_edges_target ON viewpoint_edges(target_id);
`

const metresPerDegree = 111320.0

// #endregion schema

// #region types
// GraphStore keeps the viewpoint graph in SQLite.
type GraphStore struct {
	db *sql.DB
}

// #endregion types

// #region constructor
// NewGraphStore creates tables and returns a GraphStore.
func NewGraphStore(db *sql.DB) (*GraphStore, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("graph schema: %w", err)
	}
	return &GraphStore{db: db}, nil
}

// #endregion constructor

// #region add
// AddViewPoint inserts or replaces the geometry of a viewpoint. Annotations
// and visited status survive a re-import.
func (g *GraphStore) AddViewPoint(ctx context.Context, vp ViewPoint) error {
	headings := vp.WalkableHeadings
	if headings == nil {
		headings = []float64{}
	}
	hJSON, err := json.Marshal(headings)
	if err != nil {
		return fmt.Errorf("marshal headings: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = g.db.ExecContext(ctx,
		`INSERT INTO viewpoints (filename, longitude, latitude, heading, walkable_headings, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(filename) DO UPDATE SET
		   longitude = excluded.longitude,
		   latitude = excluded.latitude,
		   heading = excluded.heading,
		   walkable_headings = excluded.walkable_headings,
		   updated_at = excluded.updated_at`,
		vp.Filename, vp.Longitude, vp.Latitude, vp.Heading, string(hJSON), now, now,
	)
	if err != nil {
		return fmt.Errorf("add viewpoint %s: %w", vp.Filename, err)
	}
	return nil
}

// AddEdge inserts or updates a directed edge.
func (g *GraphStore) AddEdge(ctx context.Context, e Edge) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := g.db.ExecContext(ctx,
		`INSERT INTO viewpoint_edges (source_id, target_id, azimuth, distance, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(source_id, target_id) DO UPDATE SET
		   azimuth = excluded.azimuth,
		   distance = excluded.distance,
		   updated_at = excluded.updated_at`,
		e.Source, e.Target, compass.Normalize(e.Azimuth), e.Distance, now, now,
	)
	if err != nil {
		return fmt.Errorf("add edge %s->%s: %w", e.Source, e.Target, err)
	}
	return nil
}

// Connect adds an edge whose azimuth and distance are derived from the two
// viewpoints' coordinates.
func (g *GraphStore) Connect(ctx context.Context, source, target string) (Edge, error) {
	a, err := g.Position(ctx, source)
	if err != nil {
		return Edge{}, err
	}
	b, err := g.Position(ctx, target)
	if err != nil {
		return Edge{}, err
	}
	e := Edge{
		Source:   source,
		Target:   target,
		Azimuth:  compass.Azimuth(a.Longitude, a.Latitude, b.Longitude, b.Latitude),
		Distance: compass.Distance(a.Longitude, a.Latitude, b.Longitude, b.Latitude),
	}
	return e, g.AddEdge(ctx, e)
}

// DeriveWalkableHeadings fills in walkable headings from outgoing edge
// azimuths for every viewpoint that has none. Returns the number updated.
func (g *GraphStore) DeriveWalkableHeadings(ctx context.Context) (int, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT e.source_id, e.azimuth
		 FROM viewpoint_edges e JOIN viewpoints v ON v.filename = e.source_id
		 WHERE v.walkable_headings = '[]'
		 ORDER BY e.source_id, e.azimuth`)
	if err != nil {
		return 0, fmt.Errorf("derive headings: %w", err)
	}
	byNode := map[string][]float64{}
	var order []string
	for rows.Next() {
		var id string
		var az float64
		if err := rows.Scan(&id, &az); err != nil {
			rows.Close()
			return 0, err
		}
		if _, ok := byNode[id]; !ok {
			order = append(order, id)
		}
		byNode[id] = append(byNode[id], az)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, id := range order {
		hJSON, _ := json.Marshal(byNode[id])
		if _, err := g.db.ExecContext(ctx,
			`UPDATE viewpoints SET walkable_headings = ?, updated_at = ? WHERE filename = ?`,
			string(hJSON), now, id); err != nil {
			return 0, fmt.Errorf("update headings %s: %w", id, err)
		}
	}
	return len(order), nil
}

// #endregion add

// #region lookup
// ViewPoint fetches a viewpoint by filename.
func (g *GraphStore) ViewPoint(ctx context.Context, id string) (ViewPoint, error) {
	var vp ViewPoint
	var hJSON string
	err := g.db.QueryRowContext(ctx,
		`SELECT filename, longitude, latitude, heading, walkable_headings FROM viewpoints WHERE filename = ?`,
		id,
	).Scan(&vp.Filename, &vp.Longitude, &vp.Latitude, &vp.Heading, &hJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return ViewPoint{}, fmt.Errorf("viewpoint %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ViewPoint{}, fmt.Errorf("viewpoint %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(hJSON), &vp.WalkableHeadings); err != nil {
		return ViewPoint{}, fmt.Errorf("viewpoint %s headings: %w", id, err)
	}
	return vp, nil
}

// Position fetches just the coordinates of a viewpoint.
func (g *GraphStore) Position(ctx context.Context, id string) (Position, error) {
	var p Position
	err := g.db.QueryRowContext(ctx,
		`SELECT filename, longitude, latitude FROM viewpoints WHERE filename = ?`, id,
	).Scan(&p.Filename, &p.Longitude, &p.Latitude)
	if errors.Is(err, sql.ErrNoRows) {
		return Position{}, fmt.Errorf("position %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Position{}, fmt.Errorf("position %s: %w", id, err)
	}
	return p, nil
}

// OutgoingEdges returns the edges leaving id, ordered by target filename.
func (g *GraphStore) OutgoingEdges(ctx context.Context, id string) ([]Edge, error) {
	edges, err := g.queryEdges(ctx,
		`SELECT source_id, target_id, azimuth, distance, attrs FROM viewpoint_edges
		 WHERE source_id = ? ORDER BY target_id`, id)
	if err != nil {
		return nil, fmt.Errorf("outgoing edges %s: %w", id, err)
	}
	if len(edges) == 0 {
		return nil, fmt.Errorf("outgoing edges %s: %w", id, ErrNotFound)
	}
	return edges, nil
}

// ClosestEdgeByAzimuth picks the outgoing edge whose azimuth is circularly
// closest to azimuth. Ties go to the lowest target filename.
func (g *GraphStore) ClosestEdgeByAzimuth(ctx context.Context, id string, azimuth float64) (Position, float64, error) {
	edges, err := g.OutgoingEdges(ctx, id)
	if err != nil {
		return Position{}, 0, err
	}
	best := ClosestEdge(edges, azimuth)
	dest, err := g.Position(ctx, best.Target)
	if err != nil {
		return Position{}, 0, err
	}
	return dest, best.Distance, nil
}

// ClosestEdge is the selection rule behind ClosestEdgeByAzimuth. edges must
// be non-empty.
func ClosestEdge(edges []Edge, azimuth float64) Edge {
	best := edges[0]
	bestDiff := compass.AngularDistance(best.Azimuth, azimuth)
	for _, e := range edges[1:] {
		d := compass.AngularDistance(e.Azimuth, azimuth)
		if d < bestDiff || (d == bestDiff && e.Target < best.Target) {
			best, bestDiff = e, d
		}
	}
	return best
}

// Nodes returns the requested viewpoints with annotations, in request order.
// Unknown ids are skipped.
func (g *GraphStore) Nodes(ctx context.Context, ids []string) ([]NodeContext, error) {
	out := make([]NodeContext, 0, len(ids))
	for _, id := range ids {
		n, err := g.node(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// ViewPoints lists every viewpoint ordered by filename.
func (g *GraphStore) ViewPoints(ctx context.Context) ([]ViewPoint, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT filename, longitude, latitude, heading, walkable_headings FROM viewpoints ORDER BY filename`)
	if err != nil {
		return nil, fmt.Errorf("list viewpoints: %w", err)
	}
	defer rows.Close()

	var out []ViewPoint
	for rows.Next() {
		var vp ViewPoint
		var hJSON string
		if err := rows.Scan(&vp.Filename, &vp.Longitude, &vp.Latitude, &vp.Heading, &hJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(hJSON), &vp.WalkableHeadings); err != nil {
			return nil, fmt.Errorf("viewpoint %s headings: %w", vp.Filename, err)
		}
		out = append(out, vp)
	}
	return out, rows.Err()
}

// Edges lists every edge ordered by source then target.
func (g *GraphStore) Edges(ctx context.Context) ([]Edge, error) {
	return g.queryEdges(ctx,
		`SELECT source_id, target_id, azimuth, distance, attrs FROM viewpoint_edges ORDER BY source_id, target_id`)
}

func (g *GraphStore) node(ctx context.Context, id string) (NodeContext, error) {
	var n NodeContext
	var visited int
	var attrs string
	err := g.db.QueryRowContext(ctx,
		`SELECT filename, longitude, latitude, visited, attrs FROM viewpoints WHERE filename = ?`, id,
	).Scan(&n.Filename, &n.Longitude, &n.Latitude, &visited, &attrs)
	if errors.Is(err, sql.ErrNoRows) {
		return NodeContext{}, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return NodeContext{}, fmt.Errorf("node %s: %w", id, err)
	}
	n.Visited = VisitStatus(visited)
	if err := json.Unmarshal([]byte(attrs), &n.Attrs); err != nil {
		return NodeContext{}, fmt.Errorf("node %s attrs: %w", id, err)
	}
	return n, nil
}

func (g *GraphStore) queryEdges(ctx context.Context, query string, args ...any) ([]Edge, error) {
	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		var attrs string
		if err := rows.Scan(&e.Source, &e.Target, &e.Azimuth, &e.Distance, &attrs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(attrs), &e.Attrs); err != nil {
			return nil, fmt.Errorf("edge %s->%s attrs: %w", e.Source, e.Target, err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// #endregion lookup

// #region annotate
// WriteNodeAttributes sets each top-level key of attrs on the viewpoint's
// annotations, replacing nested values whole. A nil value removes the key.
func (g *GraphStore) WriteNodeAttributes(ctx context.Context, id string, attrs Attributes) error {
	expr, args, err := attrsUpdate(attrs)
	if err != nil {
		return fmt.Errorf("node attrs %s: %w", id, err)
	}
	args = append(args, time.Now().UTC().Format(time.RFC3339), id)
	res, err := g.db.ExecContext(ctx,
		`UPDATE viewpoints SET attrs = `+expr+`, updated_at = ? WHERE filename = ?`,
		args...)
	if err != nil {
		return fmt.Errorf("write node attrs %s: %w", id, err)
	}
	return requireRow(res, "node "+id)
}

// WriteEdgeAttributes sets attrs on the edge's annotations like
// WriteNodeAttributes.
func (g *GraphStore) WriteEdgeAttributes(ctx context.Context, source, target string, attrs Attributes) error {
	expr, args, err := attrsUpdate(attrs)
	if err != nil {
		return fmt.Errorf("edge attrs %s->%s: %w", source, target, err)
	}
	args = append(args, time.Now().UTC().Format(time.RFC3339), source, target)
	res, err := g.db.ExecContext(ctx,
		`UPDATE viewpoint_edges SET attrs = `+expr+`, updated_at = ?
		 WHERE source_id = ? AND target_id = ?`,
		args...)
	if err != nil {
		return fmt.Errorf("write edge attrs %s->%s: %w", source, target, err)
	}
	return requireRow(res, "edge "+source+"->"+target)
}

// attrsUpdate builds the SQL expression that applies attrs to the attrs
// column: json_remove for nil values wrapped in json_set for the rest.
// Keys are applied in sorted order.
func attrsUpdate(attrs Attributes) (string, []any, error) {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		if k == "" || strings.ContainsAny(k, `"`) {
			return "", nil, fmt.Errorf("invalid attribute key %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var removes, sets []any
	for _, k := range keys {
		path := `$."` + k + `"`
		v := attrs[k]
		if v == nil {
			removes = append(removes, path)
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return "", nil, fmt.Errorf("marshal %s: %w", k, err)
		}
		sets = append(sets, path, string(raw))
	}

	expr := "attrs"
	args := make([]any, 0, len(removes)+len(sets))
	if len(removes) > 0 {
		expr = "json_remove(" + expr + strings.Repeat(", ?", len(removes)) + ")"
		args = append(args, removes...)
	}
	if len(sets) > 0 {
		expr = "json_set(" + expr + strings.Repeat(", ?, json(?)", len(sets)/2) + ")"
		args = append(args, sets...)
	}
	return expr, args, nil
}

// MarkVisited sets the visited status of every listed viewpoint.
func (g *GraphStore) MarkVisited(ctx context.Context, ids []string, status VisitStatus) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+2)
	args = append(args, int(status), time.Now().UTC().Format(time.RFC3339))
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := g.db.ExecContext(ctx,
		`UPDATE viewpoints SET visited = ?, updated_at = ? WHERE filename IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return fmt.Errorf("mark visited: %w", err)
	}
	return nil
}

// ResetAnnotations clears all node and edge annotations. Visited status is
// kept.
func (g *GraphStore) ResetAnnotations(ctx context.Context) error {
	if _, err := g.db.ExecContext(ctx, `UPDATE viewpoints SET attrs = '{}'`); err != nil {
		return fmt.Errorf("reset node attrs: %w", err)
	}
	if _, err := g.db.ExecContext(ctx, `UPDATE viewpoint_edges SET attrs = '{}'`); err != nil {
		return fmt.Errorf("reset edge attrs: %w", err)
	}
	return nil
}

func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

// #endregion annotate

// #region neighborhood
// Neighborhood returns the viewpoints around id, nearest first, excluding id
// itself. In Topology mode radius is a hop count over edges in either
// direction; in Spatial mode it is a geodesic radius in metres.
func (g *GraphStore) Neighborhood(ctx context.Context, id string, mode NeighborhoodMode, radius float64) ([]NodeContext, error) {
	switch mode {
	case Topology:
		return g.topologyNeighborhood(ctx, id, int(radius))
	case Spatial:
		return g.spatialNeighborhood(ctx, id, radius)
	default:
		return nil, fmt.Errorf("unknown neighborhood mode %q", mode)
	}
}

func (g *GraphStore) topologyNeighborhood(ctx context.Context, id string, hops int) ([]NodeContext, error) {
	if _, err := g.Position(ctx, id); err != nil {
		return nil, err
	}
	if hops <= 0 {
		return nil, nil
	}

	type queueItem struct {
		id    string
		depth int
	}
	visited := map[string]bool{id: true}
	queue := []queueItem{{id, 0}}
	var ids []string

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.depth >= hops {
			continue
		}
		next, err := g.adjacent(ctx, current.id)
		if err != nil {
			return nil, fmt.Errorf("neighborhood walk: %w", err)
		}
		for _, n := range next {
			if visited[n] {
				continue
			}
			visited[n] = true
			ids = append(ids, n)
			queue = append(queue, queueItem{n, current.depth + 1})
		}
	}
	return g.Nodes(ctx, ids)
}

// adjacent lists neighbours in either direction, sorted for stable walks.
func (g *GraphStore) adjacent(ctx context.Context, id string) ([]string, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT target_id FROM viewpoint_edges WHERE source_id = ?
		 UNION
		 SELECT source_id FROM viewpoint_edges WHERE target_id = ?
		 ORDER BY 1`, id, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (g *GraphStore) spatialNeighborhood(ctx context.Context, id string, metres float64) ([]NodeContext, error) {
	center, err := g.Position(ctx, id)
	if err != nil {
		return nil, err
	}
	if metres <= 0 {
		return nil, nil
	}

	// Bounding box prefilter, then exact geodesic distance.
	dLat := metres / metresPerDegree
	cosLat := math.Cos(center.Latitude * math.Pi / 180)
	dLon := 180.0
	if cosLat > 1e-9 {
		dLon = math.Min(180, metres/(metresPerDegree*cosLat))
	}
	rows, err := g.db.QueryContext(ctx,
		`SELECT filename, longitude, latitude FROM viewpoints
		 WHERE filename != ? AND latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?`,
		id, center.Latitude-dLat, center.Latitude+dLat, center.Longitude-dLon, center.Longitude+dLon)
	if err != nil {
		return nil, fmt.Errorf("spatial neighborhood: %w", err)
	}

	type candidate struct {
		id   string
		dist float64
	}
	var hits []candidate
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.Filename, &p.Longitude, &p.Latitude); err != nil {
			rows.Close()
			return nil, err
		}
		d := compass.Distance(center.Longitude, center.Latitude, p.Longitude, p.Latitude)
		if d <= metres {
			hits = append(hits, candidate{p.Filename, d})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].id < hits[j].id
	})
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.id
	}
	return g.Nodes(ctx, ids)
}

// #endregion neighborhood

// #region shortest-path
// ShortestPathLength returns the number of directed hops from a to b.
func (g *GraphStore) ShortestPathLength(ctx context.Context, a, b string) (int, error) {
	if a == b {
		return 0, nil
	}
	visited := map[string]bool{a: true}
	frontier := []string{a}
	for depth := 1; len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			edges, err := g.queryEdges(ctx,
				`SELECT source_id, target_id, azimuth, distance, attrs FROM viewpoint_edges
				 WHERE source_id = ? ORDER BY target_id`, id)
			if err != nil {
				return 0, fmt.Errorf("shortest path: %w", err)
			}
			for _, e := range edges {
				if e.Target == b {
					return depth, nil
				}
				if !visited[e.Target] {
					visited[e.Target] = true
					next = append(next, e.Target)
				}
			}
		}
		frontier = next
	}
	return 0, fmt.Errorf("path %s->%s: %w", a, b, ErrNotFound)
}

// #endregion shortest-path

// #region counts
// Counts returns the number of viewpoints and edges.
func (g *GraphStore) Counts(ctx context.Context) (nodes, edges int, err error) {
	if err = g.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM viewpoints`).Scan(&nodes); err != nil {
		return 0, 0, fmt.Errorf("count viewpoints: %w", err)
	}
	if err = g.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM viewpoint_edges`).Scan(&edges); err != nil {
		return 0, 0, fmt.Errorf("count edges: %w", err)
	}
	return nodes, edges, nil
}

// #endregion counts
