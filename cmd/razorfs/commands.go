package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/justyntemme/razorfs/internal/fs"
	"github.com/justyntemme/razorfs/internal/progress"
)

func (c *cli) resolve(path string) (fs.Entry, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return c.session.FS.Resolve(abs)
}

func (c *cli) resolveDir(path string) (*fs.Directory, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return c.session.FS.ResolveDirectory(abs)
}

func (c *cli) resolveAll(paths []string) ([]fs.Entry, error) {
	entries := make([]fs.Entry, 0, len(paths))
	for _, p := range paths {
		e, err := c.resolve(p)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// tracker prints batch progress to w until the batch completes. wait blocks
// until the final line was written.
func tracker(w io.Writer, enabled bool) (t progress.Tracker, wait func()) {
	if !enabled {
		return nil, func() {}
	}
	ch := progress.NewChannel(16, func(item any) string {
		if e, ok := item.(fs.Entry); ok {
			return e.Path()
		}
		return fmt.Sprint(item)
	})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for p := range ch.C {
			if p.Done {
				fmt.Fprintf(w, "done %d/%d\n", p.Current, p.Total)
				return
			}
			if p.Label != "" {
				fmt.Fprintf(w, "[%d/%d] %s\n", p.Current, p.Total, p.Label)
			}
		}
	}()
	return ch, wg.Wait
}

func (c *cli) lsCmd() *cobra.Command {
	var all, machine, types bool
	cmd := &cobra.Command{
		Use:   "ls [dir]",
		Short: "List a directory through the registry",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var dir *fs.Directory
			if machine {
				dir = c.session.FS.Machine()
			} else {
				path := "."
				if len(args) == 1 {
					path = args[0]
				}
				d, err := c.resolveDir(path)
				if err != nil {
					return err
				}
				dir = d
			}

			out := cmd.OutOrStdout()
			for _, e := range dir.Children() {
				if !all && e.Hidden() {
					continue
				}
				switch e := e.(type) {
				case *fs.Directory:
					fmt.Fprintf(out, "%s%c\n", e.Name(), filepath.Separator)
				case *fs.File:
					size := "?"
					if n := e.Size(); n >= 0 {
						size = humanize.IBytes(uint64(n))
					}
					if !types {
						fmt.Fprintf(out, "%-40s %10s\n", e.Name(), size)
						continue
					}
					kind := "?"
					if mt, err := e.DetectType(); err == nil {
						kind = mt.String()
					}
					fmt.Fprintf(out, "%-40s %10s  %s\n", e.Name(), size, kind)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include hidden entries")
	cmd.Flags().BoolVar(&machine, "machine", false, "List the top-level roots")
	cmd.Flags().BoolVarP(&types, "types", "t", false, "Show the sniffed content type of files")
	return cmd
}

func (c *cli) cpCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "cp <src>... <dir>",
		Short: "Copy entries into a directory",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, target, err := c.batchArgs(args)
			if err != nil {
				return err
			}
			t, wait := tracker(cmd.ErrOrStderr(), verbose)
			ok := c.session.FS.CopyAll(entries, target, t)
			wait()
			if !ok {
				return errors.New("cp: some entries were not copied")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Report progress")
	return cmd
}

func (c *cli) mvCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "mv <src>... <dir>",
		Short: "Move entries into a directory",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, target, err := c.batchArgs(args)
			if err != nil {
				return err
			}
			t, wait := tracker(cmd.ErrOrStderr(), verbose)
			ok := c.session.FS.MoveAll(entries, target, t)
			wait()
			if !ok {
				return errors.New("mv: some entries were not moved")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Report progress")
	return cmd
}

func (c *cli) batchArgs(args []string) ([]fs.Entry, *fs.Directory, error) {
	target, err := c.resolveDir(args[len(args)-1])
	if err != nil {
		return nil, nil, err
	}
	entries, err := c.resolveAll(args[:len(args)-1])
	if err != nil {
		return nil, nil, err
	}
	return entries, target, nil
}

func (c *cli) rmCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "rm <path>...",
		Short: "Remove files and directory trees",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := c.resolveAll(args)
			if err != nil {
				return err
			}
			t, wait := tracker(cmd.ErrOrStderr(), verbose)
			ok := c.session.FS.RemoveAll(entries, t)
			wait()
			if !ok {
				return errors.New("rm: some entries were not removed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Report progress")
	return cmd
}

func (c *cli) renameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <path> <name>",
		Short: "Rename an entry in place",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := c.resolve(args[0])
			if err != nil {
				return err
			}
			if !c.session.FS.Rename(e, args[1]) {
				return fmt.Errorf("rename: %s was not renamed", args[0])
			}
			return nil
		},
	}
}

func (c *cli) mkdirCmd() *cobra.Command {
	var file bool
	cmd := &cobra.Command{
		Use:   "mkdir <dir> <name>",
		Short: "Create a directory (or an empty file with --file) inside dir",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := c.resolveDir(args[0])
			if err != nil {
				return err
			}
			var created fs.Entry
			ok := false
			if file {
				created, ok = c.session.FS.CreateFile(dir, args[1])
			} else {
				created, ok = c.session.FS.CreateDirectory(dir, args[1])
			}
			if !ok {
				return fmt.Errorf("mkdir: %s was not created", args[1])
			}
			fmt.Fprintln(cmd.OutOrStdout(), created.Path())
			return nil
		},
	}
	cmd.Flags().BoolVar(&file, "file", false, "Create an empty file")
	return cmd
}

func (c *cli) ignoreCmd() *cobra.Command {
	var undo, list bool
	cmd := &cobra.Command{
		Use:   "ignore [path]",
		Short: "Hide an entry from every listing, journaled across runs",
		Args: func(cmd *cobra.Command, args []string) error {
			if list {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			store := c.session.Ignores
			out := cmd.OutOrStdout()
			if list {
				for _, rec := range store.Active() {
					fmt.Fprintf(out, "%s\t%s\n", rec.Target.Key(), humanize.Time(rec.Timestamp))
				}
				return nil
			}

			e, err := c.resolve(args[0])
			if err != nil {
				return err
			}
			if !undo {
				store.Ignore(e)
				return nil
			}
			for _, rec := range store.Active() {
				if rec.Target.ID() == e.ID() {
					store.Undo(rec)
					return nil
				}
			}
			return fmt.Errorf("ignore: %s is not ignored at runtime", args[0])
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "Undo a runtime ignore")
	cmd.Flags().BoolVar(&list, "list", false, "List runtime ignores")
	return cmd
}

func (c *cli) watchCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Print a line for every change signal of a directory until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := c.resolveDir(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			var mu sync.Mutex
			var seen atomic.Int64
			done := make(chan struct{})
			var once sync.Once
			emit := func(format string, a ...any) {
				mu.Lock()
				fmt.Fprintf(out, format, a...)
				mu.Unlock()
			}

			sub := dir.ListenForChanges(func() {
				emit("%s changed %s\n", time.Now().Format(time.TimeOnly), dir.Path())
				if n := seen.Add(1); count > 0 && n >= int64(count) {
					once.Do(func() { close(done) })
				}
			})
			defer sub.Cancel()
			removed := c.session.FS.Removed().Subscribe(func(e fs.Entry) {
				emit("%s removed %s\n", time.Now().Format(time.TimeOnly), e.Path())
			})
			defer removed.Cancel()

			if !dir.Watch() {
				return fmt.Errorf("watch: cannot watch %s", dir.Path())
			}
			defer dir.StopWatching()

			select {
			case <-cmd.Context().Done():
			case <-done:
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "Exit after this many change signals (0 waits for an interrupt)")
	return cmd
}

func (c *cli) tabsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tabs <dir>...",
		Short: "Open a tab per directory and print the disambiguated tab names",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range args {
				abs, err := filepath.Abs(p)
				if err != nil {
					return err
				}
				if _, err := c.session.NewTab(abs); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			for _, t := range c.session.Tabs.All() {
				mark := " "
				if t.Active() {
					mark = "*"
				}
				path := ""
				if d, ok := t.SelectedDirectory(); ok {
					path = d.Path()
				}
				fmt.Fprintf(out, "%s %s\t%s\n", mark, t.VisibleName(), path)
			}
			return nil
		},
	}
}
