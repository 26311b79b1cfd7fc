// Command paramgen compiles a schema file (spec.md §4.A) into Go accessors
// and a C header, and, with --cabi, the cgo export glue that backs that
// header against internal/cabi's handle table. Its command tree follows
// the cobra idiom the rest of this module's dependency pack uses for
// multi-command CLIs.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/paramhub/paramhub/internal/schema"
)

var (
	outDir   string
	pkgName  string
	watch    bool
	cabiFlag bool
)

func main() {
	root := &cobra.Command{
		Use:   "paramgen <schema.yaml>",
		Short: "Compile a paramhub schema file into Go accessors and a C header",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if watch {
				return runWatch(args[0])
			}
			return runOnce(args[0])
		},
	}

	root.Flags().StringVar(&outDir, "out", ".", "output directory for generated files")
	root.Flags().StringVar(&pkgName, "package", "paramgen", "package name for the generated Go source")
	root.Flags().BoolVar(&watch, "watch", false, "watch the schema file and regenerate on every save")
	root.Flags().BoolVar(&cabiFlag, "cabi", false, "also emit params_gen_cabi.go (run with --out internal/cabi)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runOnce(schemaPath string) error {
	f, err := schema.Load(schemaPath)
	if err != nil {
		return err
	}
	table, err := schema.Compile(f)
	if err != nil {
		return err
	}
	gen, err := schema.Generate(pkgName, table)
	if err != nil {
		return err
	}
	var cabiSrc string
	if cabiFlag {
		cabiSrc, err = schema.GenerateCABI(table)
		if err != nil {
			return err
		}
	}
	return writeGenerated(gen, cabiSrc)
}

func writeGenerated(gen *schema.Generated, cabiSrc string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	goPath := filepath.Join(outDir, "params_gen.go")
	if err := os.WriteFile(goPath, []byte(gen.GoSource), 0o644); err != nil {
		return fmt.Errorf("paramgen: write %s: %w", goPath, err)
	}
	hPath := filepath.Join(outDir, "paramhub_generated.h")
	if err := os.WriteFile(hPath, []byte(gen.CHeader), 0o644); err != nil {
		return fmt.Errorf("paramgen: write %s: %w", hPath, err)
	}
	fmt.Printf("paramgen: wrote %s and %s\n", goPath, hPath)

	if cabiSrc == "" {
		return nil
	}
	cabiPath := filepath.Join(outDir, "params_gen_cabi.go")
	if err := os.WriteFile(cabiPath, []byte(cabiSrc), 0o644); err != nil {
		return fmt.Errorf("paramgen: write %s: %w", cabiPath, err)
	}
	fmt.Printf("paramgen: wrote %s\n", cabiPath)
	return nil
}

// runWatch regenerates on every save to schemaPath, using fsnotify the way
// the teacher watches its own working tree for hot-reload triggers.
func runWatch(schemaPath string) error {
	if err := runOnce(schemaPath); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("paramgen: fsnotify: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(schemaPath)); err != nil {
		return fmt.Errorf("paramgen: watch %s: %w", schemaPath, err)
	}

	fmt.Printf("paramgen: watching %s for changes (ctrl-c to stop)\n", schemaPath)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(schemaPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := runOnce(schemaPath); err != nil {
				fmt.Fprintf(os.Stderr, "paramgen: regenerate failed: %v\n", err)
				continue
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "paramgen: watcher error: %v\n", err)
		}
	}
}
