package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
)

func lsCmd(opts *options) *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List a directory",
		Example: `  fsfacade ls
  fsfacade ls /reports -r`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := ""
			if len(args) == 1 {
				raw = args[0]
			}
			return opts.withFile(cmd.Context(), raw, func(f *vfs.File) error {
				var (
					files []*vfs.File
					err   error
				)
				if recursive {
					files, err = f.ListTree(cmd.Context())
				} else {
					files, err = f.ListFiles(cmd.Context())
				}
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				for _, child := range files {
					info, err := child.Stat(cmd.Context())
					if err != nil {
						return err
					}
					name := child.Name()
					if recursive {
						name = child.AbsolutePath()
					}
					if info.Kind == vfs.KindDirectory {
						name += "/"
					}
					fmt.Fprintf(w, "%d\tv%d\t%s\t%s\n", info.Size, info.Version, info.ModTime.Format(time.DateTime), name)
				}
				return w.Flush()
			})
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "list the whole subtree")
	return cmd
}

func catCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cat <path>",
		Short: "Print a file",
		Args:  exactArgs(1, "a file path"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withFile(cmd.Context(), args[0], func(f *vfs.File) error {
				r, err := f.OpenReader(cmd.Context())
				if err != nil {
					return err
				}
				defer func() { _ = r.Close() }()
				_, err = io.Copy(cmd.OutOrStdout(), r)
				return err
			})
		},
	}
}

func putCmd(opts *options) *cobra.Command {
	var (
		parents  bool
		expected int64
	)

	cmd := &cobra.Command{
		Use:   "put <path> [local-file]",
		Short: "Write a file from a local file or standard input",
		Long: `Write a file from a local file or standard input.

With --expect-version the write only succeeds when the stored version still
matches; a concurrent change fails with a version mismatch.`,
		Example: `  fsfacade put /notes.txt ./notes.txt
  echo hello | fsfacade put /hello.txt
  fsfacade put /counter.json ./counter.json --expect-version 4`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var src io.Reader = cmd.InOrStdin()
			if len(args) == 2 && args[1] != "-" {
				local, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer func() { _ = local.Close() }()
				src = local
			}

			return opts.withFile(cmd.Context(), args[0], func(f *vfs.File) error {
				ctx := cmd.Context()
				if parents {
					if parent, ok := f.Parent(); ok {
						if err := parent.Mkdirs(ctx); err != nil {
							return err
						}
					}
				}

				if cmd.Flags().Changed("expect-version") {
					data, err := io.ReadAll(src)
					if err != nil {
						return err
					}
					version, err := f.WriteBytesVersioned(ctx, vfs.Versioned[[]byte]{Value: data, Version: expected})
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "v%d\n", version)
					return nil
				}

				w, err := f.OpenWriter(ctx)
				if err != nil {
					return err
				}
				if _, err := io.Copy(w, src); err != nil {
					_ = w.Close()
					return err
				}
				return w.Close()
			})
		},
	}

	cmd.Flags().BoolVarP(&parents, "parents", "p", false, "create missing parent directories")
	cmd.Flags().Int64Var(&expected, "expect-version", 0, "only write when the stored version matches")
	return cmd
}

func mkdirCmd(opts *options) *cobra.Command {
	var parents bool

	cmd := &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a directory",
		Args:  exactArgs(1, "a directory path"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withFile(cmd.Context(), args[0], func(f *vfs.File) error {
				if parents {
					return f.Mkdirs(cmd.Context())
				}
				return f.Mkdir(cmd.Context())
			})
		},
	}

	cmd.Flags().BoolVarP(&parents, "parents", "p", false, "create missing parent directories")
	return cmd
}

func rmCmd(opts *options) *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Delete a file or directory",
		Args:  exactArgs(1, "a path"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withFile(cmd.Context(), args[0], func(f *vfs.File) error {
				if recursive {
					return f.DeleteTree(cmd.Context())
				}
				return f.Delete(cmd.Context())
			})
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "delete a directory and everything below it")
	return cmd
}

func mvCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "mv <source> <destination>",
		Short: "Move a file or directory",
		Args:  exactArgs(2, "a source and a destination path"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withFile(cmd.Context(), args[0], func(src *vfs.File) error {
				dst, err := vfs.CreateByPath(src.FileSystem(), args[1])
				if err != nil {
					return err
				}
				return src.MoveTo(cmd.Context(), dst)
			})
		},
	}
}

func historyCmd(opts *options) *cobra.Command {
	var show int64

	cmd := &cobra.Command{
		Use:   "history <path>",
		Short: "List or print retained history of a file",
		Long: `List or print retained history of a file.

Ids are millisecond timestamps in history mode and version numbers in
versioning mode.`,
		Example: `  fsfacade history /notes.txt
  fsfacade history /notes.txt --show 1760601600000`,
		Args: exactArgs(1, "a file path"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withFile(cmd.Context(), args[0], func(f *vfs.File) error {
				if cmd.Flags().Changed("show") {
					data, err := f.ReadHistoryBytes(cmd.Context(), show)
					if err != nil {
						return err
					}
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}

				ids, err := f.HistoryTimes(cmd.Context())
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&show, "show", 0, "print the entry with this id")
	return cmd
}
