// Package root assembles the command-line interface.
package root

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/drewfead/tw-watcher/internal"
	"github.com/drewfead/tw-watcher/internal/config"
	"github.com/drewfead/tw-watcher/internal/dates"
	"github.com/drewfead/tw-watcher/internal/services"
)

var errBadArguments = errors.New("bad arguments")

func New() *cli.Command {
	return &cli.Command{
		Name:  "tw-watcher",
		Usage: "look up movie showtimes across taiwanese theater chains",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "emit machine-readable output",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			level := slog.LevelInfo
			if cmd.Bool("verbose") {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level: level,
			})))
			return ctx, nil
		},
		Commands: []*cli.Command{
			chainsCommand(),
			catalogCommand(),
			scheduleCommand(),
		},
	}
}

func chainsCommand() *cli.Command {
	return &cli.Command{
		Name:  "chains",
		Usage: "list the supported theater chains",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			svc := services.NewShowtimes(config.FromEnv())
			for _, chain := range svc.Chains() {
				fmt.Fprintln(cmd.Root().Writer, chain)
			}
			return nil
		},
	}
}

func catalogCommand() *cli.Command {
	return &cli.Command{
		Name:      "catalog",
		Usage:     "list a chain's theaters and movies",
		ArgsUsage: "<chain>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			chain := cmd.Args().First()
			if chain == "" {
				return fmt.Errorf("%w: chain is required", errBadArguments)
			}
			svc := services.NewShowtimes(config.FromEnv())
			catalog, details, err := svc.GetCatalogDetails(ctx, chain)
			if err != nil {
				return err
			}
			if cmd.Bool("json") {
				return printJSON(cmd, map[string]any{
					"catalog": catalog,
					"details": details,
				})
			}

			options := make([]string, 0, len(catalog.Options))
			for name := range catalog.Options {
				options = append(options, name)
			}
			sort.Strings(options)
			for _, name := range options {
				line := fmt.Sprintf("%s\t%s", name, catalog.Options[name])
				if d, ok := details[name]; ok && d.ReleaseDate != "" {
					line = fmt.Sprintf("%s\t(%s)", line, d.ReleaseDate)
				}
				fmt.Fprintln(cmd.Root().Writer, line)
			}
			for _, name := range catalog.Names {
				fmt.Fprintln(cmd.Root().Writer, name)
			}
			return nil
		},
	}
}

func scheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "schedule",
		Usage:     "look up showtimes for one movie",
		ArgsUsage: "<chain>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "movie",
				Usage:    "movie title (vieshow) or program id (showtime)",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:  "theater",
				Usage: "theater as name=code, repeatable; code may be empty",
			},
			&cli.StringFlag{
				Name:  "date",
				Usage: "only this date, e.g. 2月6日",
			},
			&cli.StringFlag{
				Name:  "from",
				Usage: "start of a date range, e.g. 2月6日",
			},
			&cli.StringFlag{
				Name:  "to",
				Usage: "end of a date range, e.g. 2月10日",
			},
			&cli.BoolFlag{
				Name:  "no-cache",
				Usage: "drop cached data before the lookup",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			chain := cmd.Args().First()
			if chain == "" {
				return fmt.Errorf("%w: chain is required", errBadArguments)
			}
			theaters, err := parseTheaterFlags(cmd.StringSlice("theater"))
			if err != nil {
				return err
			}
			filter, err := parseFilterFlags(cmd)
			if err != nil {
				return err
			}

			svc := services.NewShowtimes(config.FromEnv())
			if cmd.Bool("no-cache") {
				if err := svc.Refresh(chain); err != nil {
					return err
				}
			}
			schedule, err := svc.GetFilteredSchedule(ctx, chain, internal.ScheduleRequest{
				MovieKey: cmd.String("movie"),
				Theaters: theaters,
			}, filter)
			if err != nil {
				return err
			}
			if cmd.Bool("json") {
				return printJSON(cmd, schedule)
			}
			printSchedule(cmd, schedule)
			return nil
		},
	}
}

func parseTheaterFlags(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	theaters := make(map[string]string, len(raw))
	for _, entry := range raw {
		name, code, _ := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("%w: theater %q has no name", errBadArguments, entry)
		}
		theaters[name] = strings.TrimSpace(code)
	}
	return theaters, nil
}

func parseFilterFlags(cmd *cli.Command) (dates.Filter, error) {
	single := cmd.String("date")
	from := cmd.String("from")
	to := cmd.String("to")

	switch {
	case single != "":
		if from != "" || to != "" {
			return dates.Filter{}, fmt.Errorf("%w: --date excludes --from/--to", errBadArguments)
		}
		target, ok := dates.ParseDateFromString(single)
		if !ok {
			return dates.Filter{}, fmt.Errorf("%w: unparseable date %q", errBadArguments, single)
		}
		return dates.Filter{Mode: dates.FilterSingle, Target: target}, nil
	case from != "" && to != "":
		start, ok := dates.ParseDateFromString(from)
		if !ok {
			return dates.Filter{}, fmt.Errorf("%w: unparseable date %q", errBadArguments, from)
		}
		end, ok := dates.ParseDateFromString(to)
		if !ok {
			return dates.Filter{}, fmt.Errorf("%w: unparseable date %q", errBadArguments, to)
		}
		return dates.Filter{Mode: dates.FilterRange, Start: start, End: end}, nil
	case from != "" || to != "":
		return dates.Filter{}, fmt.Errorf("%w: --from and --to go together", errBadArguments)
	default:
		return dates.Filter{Mode: dates.FilterAll}, nil
	}
}

func printSchedule(cmd *cli.Command, schedule internal.Schedule) {
	theaters := make([]string, 0, len(schedule))
	for name := range schedule {
		theaters = append(theaters, name)
	}
	sort.Strings(theaters)
	for _, theater := range theaters {
		fmt.Fprintln(cmd.Root().Writer, theater)
		days := schedule[theater]
		if len(days) == 0 {
			fmt.Fprintln(cmd.Root().Writer, "  (無場次)")
			continue
		}
		for _, day := range days {
			fmt.Fprintf(cmd.Root().Writer, "  %s  %s\n", day.Label, strings.Join(day.Times, " "))
		}
	}
}

func printJSON(cmd *cli.Command, v any) error {
	enc := json.NewEncoder(cmd.Root().Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
