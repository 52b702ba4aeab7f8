package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/anonymous-cityseeker/CitySeeker/internal/episodes"
	"github.com/anonymous-cityseeker/CitySeeker/internal/graph"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Load, export and reset the viewpoint graph",
}

var graphImportCmd = &cobra.Command{
	Use:   "import [file.dot]",
	Short: "Import viewpoints and edges from a Graphviz digraph",
	Args:  cobra.ExactArgs(1),
	RunE:  graphImport,
}

var graphExportOut string

var graphExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the graph with its annotations as DOT",
	RunE:  graphExport,
}

var graphResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear annotations and visited status left by earlier runs",
	RunE:  graphReset,
}

func init() {
	graphExportCmd.Flags().StringVarP(&graphExportOut, "out", "o", "", "write to file instead of stdout")
	graphCmd.AddCommand(graphImportCmd, graphExportCmd, graphResetCmd)
}

func openGraph() (*episodes.Store, *graph.GraphStore, error) {
	store, err := episodes.NewStore(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	gs, err := graph.NewGraphStore(store.DB())
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, gs, nil
}

// #region import
func graphImport(cmd *cobra.Command, args []string) error {
	src, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	store, gs, err := openGraph()
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := gs.ImportDOT(cmd.Context(), string(src))
	if err != nil {
		return err
	}
	nodes, edges, err := gs.Counts(cmd.Context())
	if err != nil {
		return err
	}
	logger.Info("graph imported",
		zap.String("file", args[0]),
		zap.Int("viewpoints", stats.ViewPoints),
		zap.Int("edges", stats.Edges),
		zap.Int("derived_headings", stats.Derived))
	fmt.Printf("Imported %d viewpoints and %d edges (%d headings derived). Graph now has %d viewpoints, %d edges.\n",
		stats.ViewPoints, stats.Edges, stats.Derived, nodes, edges)
	return nil
}

// #endregion import

// #region export
func graphExport(cmd *cobra.Command, args []string) error {
	store, gs, err := openGraph()
	if err != nil {
		return err
	}
	defer store.Close()

	dot, err := gs.ExportDOT(cmd.Context(), "citynav")
	if err != nil {
		return err
	}
	if graphExportOut == "" {
		fmt.Print(dot)
		return nil
	}
	if err := os.WriteFile(graphExportOut, []byte(dot), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", graphExportOut, err)
	}
	logger.Info("graph exported", zap.String("file", graphExportOut))
	return nil
}

// #endregion export

// #region reset
func graphReset(cmd *cobra.Command, args []string) error {
	store, gs, err := openGraph()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := gs.ResetAnnotations(cmd.Context()); err != nil {
		return err
	}
	vps, err := gs.ViewPoints(cmd.Context())
	if err != nil {
		return err
	}
	ids := make([]string, len(vps))
	for i, vp := range vps {
		ids[i] = vp.Filename
	}
	if err := gs.MarkVisited(cmd.Context(), ids, graph.Unvisited); err != nil {
		return err
	}
	fmt.Printf("Reset %d viewpoints.\n", len(ids))
	return nil
}

// #endregion reset
