package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"courseplanner/internal/courseplanner"
)

func main() {
	var (
		configPath string
		list       string
		lookup     string
		purge      bool
		watch      bool
		filter     courseplanner.CourseFilter
	)
	flag.StringVar(&configPath, "config", os.Getenv("COURSEPLANNER_CONFIG"), "path to courseplanner.yaml (defaults apply when empty)")
	flag.StringVar(&list, "list", "", "list reference data: careers, campuses, terms or subjects")
	flag.StringVar(&lookup, "lookup", "", "with -list, look up a single key (fuzzy)")
	flag.BoolVar(&purge, "purge", false, "delete stale cache rows before anything else")
	flag.BoolVar(&watch, "watch", false, "keep running and refresh reference data every cache.warmEvery")
	flag.StringVar(&filter.Title, "title", "", "course title filter")
	flag.StringVar(&filter.Campus, "campus", "", "campus code filter")
	flag.StringVar(&filter.Subject, "subject", "", "subject code filter")
	flag.StringVar(&filter.CatalogueNumber, "catalogue", "", "catalogue number filter")
	flag.StringVar(&filter.Term, "term", "", "term code filter")
	flag.StringVar(&filter.Career, "career", "", "academic career filter")
	flag.IntVar(&filter.Year, "year", 0, "course year (defaults to config year)")
	flag.Parse()

	cfg, err := courseplanner.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	svc, err := courseplanner.NewService(cfg)
	if err != nil {
		log.Fatalf("init service: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, svc, cfg, list, lookup, purge, watch, filter)
	stop()
	printStats(svc.Stats())
	if cerr := svc.Close(); cerr != nil {
		log.Printf("close: %v", cerr)
	}
	if err != nil {
		errorPrintln(err)
		os.Exit(1)
	}
}

func run(
	ctx context.Context,
	svc *courseplanner.Service,
	cfg courseplanner.Config,
	list, lookup string,
	purge, watch bool,
	filter courseplanner.CourseFilter,
) error {
	if purge {
		n, err := svc.PurgeStale()
		if err != nil {
			return fmt.Errorf("purge: %w", err)
		}
		infoPrintf("purged %d stale rows\n", n)
	}

	if watch {
		log.Printf("courseplanner watching, api=%s, warmEvery=%s", cfg.API.BaseURL, cfg.WarmEvery())
		svc.StartWarmup(cfg.WarmEvery())
		<-ctx.Done()
		return nil
	}

	if list != "" {
		return listReference(ctx, svc, strings.ToLower(list), lookup)
	}

	if filter != (courseplanner.CourseFilter{}) {
		courses, err := svc.Courses(ctx, filter)
		if err != nil {
			return err
		}
		for _, c := range courses {
			rowPrintf("%-6s %-5s %-8s %-6d %s (%s)\n", c.Subject, c.CatalogueNumber, c.Term, c.ClassNumber, c.CourseTitle, c.Campus)
		}
		infoPrintf("%d classes\n", len(courses))
		return nil
	}

	return svc.Warm(ctx)
}

func listReference(ctx context.Context, svc *courseplanner.Service, kind, lookup string) error {
	switch kind {
	case "careers":
		c, err := svc.Careers(ctx)
		if err != nil {
			return err
		}
		return printCollection(c, lookup, func(r courseplanner.Career) string { return r.Name })
	case "campuses":
		c, err := svc.Campuses(ctx)
		if err != nil {
			return err
		}
		return printCollection(c, lookup, func(r courseplanner.Campus) string { return r.Description })
	case "terms":
		c, err := svc.Terms(ctx)
		if err != nil {
			return err
		}
		return printCollection(c, lookup, func(r courseplanner.Term) string {
			if r.Current {
				return r.Description + " (current)"
			}
			return r.Description
		})
	case "subjects":
		c, err := svc.Subjects(ctx)
		if err != nil {
			return err
		}
		return printCollection(c, lookup, func(r courseplanner.Subject) string { return r.Description })
	}
	return fmt.Errorf("unknown -list %q: want careers, campuses, terms or subjects", kind)
}

func printCollection[T courseplanner.Record](c *courseplanner.Collection[T], lookup string, describe func(T) string) error {
	if lookup == "" {
		for _, r := range c.All() {
			rowPrintf("%-10s %s\n", r.NaturalKey(), describe(r))
		}
		infoPrintf("%d entries\n", c.Len())
		return nil
	}
	m, ok := c.Match(lookup)
	if !ok {
		return fmt.Errorf("%q: no match", lookup)
	}
	if !m.Exact {
		warnPrintf("no exact match for %q, closest is %q (similarity %.2f)\n", lookup, m.Key, m.Score)
	}
	rowPrintf("%-10s %s\n", m.Key, describe(m.Record))
	return nil
}
