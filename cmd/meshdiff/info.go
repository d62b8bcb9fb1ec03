package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/chazu/meshdiff/pkg/meshio"
)

var infoCmd = &cobra.Command{
	Use:   "info [file]",
	Short: "Display vertex and triangle counts and bounds of a mesh file",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	filename := args[0]
	raw, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	m, err := meshio.Parse(raw, filename)
	if err != nil {
		return err
	}
	b := m.Bounds()
	size := b.Size()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Mesh Information")
	fmt.Fprintln(out, "================")
	fmt.Fprintf(out, "File: %s\n", filepath.Base(filename))
	fmt.Fprintf(out, "Format: %s\n\n", meshio.DetectFormat(filename))
	fmt.Fprintf(out, "Vertices: %d\n", m.VertexCount())
	fmt.Fprintf(out, "Triangles: %d\n\n", m.TriangleCount())
	fmt.Fprintln(out, "Bounding Box:")
	fmt.Fprintf(out, "  Min: %s\n", formatVec(b.Min.X, b.Min.Y, b.Min.Z))
	fmt.Fprintf(out, "  Max: %s\n", formatVec(b.Max.X, b.Max.Y, b.Max.Z))
	fmt.Fprintf(out, "  Size: %s\n", formatVec(size.X, size.Y, size.Z))
	return nil
}

func formatVec(x, y, z float64) string {
	return fmt.Sprintf("(%.4f, %.4f, %.4f)", x, y, z)
}
