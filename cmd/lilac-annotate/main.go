// Command lilac-annotate is a stdin-to-stdout filter that appends
// maintainer handles to lines naming a managed package, for piping
// build-queue listings or logs through to a human-readable form.
package main

import (
	"flag"
	"log"
	"os"

	"github.com/pkgforge/lilac/internal/annotate"
	"github.com/pkgforge/lilac/internal/recipe"
)

var pkgsDir = flag.String("pkgs_dir", "", "directory containing one subdirectory per managed package")

func main() {
	flag.Parse()
	if *pkgsDir == "" {
		log.Fatal("-pkgs_dir is required")
	}

	loader := &recipe.Loader{PkgsDir: *pkgsDir}
	recipes, errs := loader.Load()
	for pkgbase, err := range errs {
		log.Printf("skipping %s: %v", pkgbase, err)
	}

	handles := func(pkgbase string) []string {
		r, ok := recipes[pkgbase]
		if !ok {
			return nil
		}
		hs := make([]string, 0, len(r.Maintainers))
		for _, m := range r.Maintainers {
			if m.Handle != "" {
				hs = append(hs, m.Handle)
			}
		}
		return hs
	}

	if err := annotate.Run(os.Stdin, os.Stdout, handles); err != nil {
		log.Fatal(err)
	}
}
