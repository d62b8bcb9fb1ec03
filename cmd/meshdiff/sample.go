package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/chazu/meshdiff/pkg/kernel"
	"github.com/chazu/meshdiff/pkg/kernel/sdfx"
	"github.com/chazu/meshdiff/pkg/mesh"
	"github.com/chazu/meshdiff/pkg/meshio"
)

var sampleCells int

var sampleCmd = &cobra.Command{
	Use:   "sample [dir]",
	Short: "Write a demo pair of meshes to compare",
	Long: `Write reference.stl (a plate) and revision.stl (the same plate with a
drilled hole, slightly offset and rotated) into dir.`,
	Args: cobra.ExactArgs(1),
	RunE: runSample,
}

func init() {
	rootCmd.AddCommand(sampleCmd)

	sampleCmd.Flags().IntVar(&sampleCells, "cells", sdfx.DefaultCells, "marching cubes resolution along the longest axis")
}

func runSample(cmd *cobra.Command, args []string) error {
	dir := args[0]
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	ref, rev, err := kernel.SamplePair(sdfx.New(sampleCells))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	files := []struct {
		name string
		m    *mesh.Mesh
	}{
		{"reference.stl", ref},
		{"revision.stl", rev},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := writeSTLFile(path, f.m); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s (%d vertices, %d triangles)\n", path, f.m.VertexCount(), f.m.TriangleCount())
	}
	return nil
}

func writeSTLFile(path string, m *mesh.Mesh) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := meshio.WriteSTL(f, m); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
