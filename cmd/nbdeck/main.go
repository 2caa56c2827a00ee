// nbdeck presents Jupyter notebooks as terminal slide decks, running cells
// on a supervised local kernel server.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"nbdeck/internal/config"
	"nbdeck/internal/interpreter"
	"nbdeck/internal/logging"
	"nbdeck/internal/notebook"
	"nbdeck/internal/render"
	"nbdeck/internal/runtime"
	"nbdeck/internal/server"
	"nbdeck/internal/store"
	"nbdeck/internal/types"
)

var version = "dev"

var (
	workspace       string
	interpreterFlag string
)

var rootCmd = &cobra.Command{
	Use:   "nbdeck",
	Short: "Present Jupyter notebooks as terminal slide decks",
	Long: `nbdeck opens a Jupyter notebook as a slide deck in the terminal.

Markdown headings start slides; code cells execute on a locally supervised
Jupyter kernel server using the best Python interpreter nbdeck can find
(previously chosen, currently active, or any known environment carrying
ipykernel and jupyter_server).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if workspace == "" {
			wd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("determining workspace: %w", err)
			}
			workspace = wd
		}
		return logging.Initialize(workspace)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Flush()
	},
}

var presentCmd = &cobra.Command{
	Use:   "present [notebook.ipynb]",
	Short: "Open a notebook as an interactive slide deck",
	Args:  cobra.ExactArgs(1),
	RunE:  runPresent,
}

var runCmd = &cobra.Command{
	Use:   "run [notebook.ipynb]",
	Short: "Run every cell headlessly and write outputs back to the file",
	Args:  cobra.ExactArgs(1),
	RunE:  runHeadless,
}

var kernelsCmd = &cobra.Command{
	Use:   "kernels [notebook.ipynb]",
	Short: "List the kernels available to a notebook's server",
	Args:  cobra.ExactArgs(1),
	RunE:  runKernels,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the nbdeck version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("nbdeck %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default: current directory)")
	rootCmd.PersistentFlags().StringVarP(&interpreterFlag, "interpreter", "i", "", "Python interpreter to use, overriding resolution")
	rootCmd.AddCommand(presentCmd, runCmd, kernelsCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// buildRuntime assembles the kernel runtime for one notebook document.
func buildRuntime(cfg *config.Config, doc *notebook.Document, notifier types.Notifier) (*runtime.Manager, *store.WorkspaceStore, error) {
	st, err := store.NewWorkspaceStore(filepath.Join(workspace, cfg.Storage.DatabasePath))
	if err != nil {
		return nil, nil, fmt.Errorf("opening workspace store: %w", err)
	}

	locator := interpreter.NewSystemLocator(interpreterFlag)
	resolver := interpreter.NewResolver(locator, cfg.Interpreter.RequiredModules, cfg.Interpreter.ProbeTimeout)
	supervisor := server.New(cfg.Server, &http.Client{Timeout: 10 * time.Second})

	mgr := runtime.NewManager(cfg, doc, runtime.Deps{
		Store:      st,
		Resolver:   resolver,
		Supervisor: supervisor,
		Registrar:  interpreter.Registrar{},
		Notifier:   notifier,
	})
	return mgr, st, nil
}

func runPresent(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWorkspace(workspace)
	if err != nil {
		return err
	}

	doc, err := notebook.Load(args[0])
	if err != nil {
		return err
	}

	presenter := render.NewPresenter(doc)

	mgr, st, err := buildRuntime(cfg, doc, presenter.Notifier())
	if err != nil {
		return err
	}
	defer st.Close()
	presenter.SetRuntime(mgr)
	defer mgr.Dispose()

	watcher := notebook.NewWatcher(doc.Path(), presenter.NotifyReload)
	if err := watcher.Start(cmd.Context()); err != nil {
		logging.Boot("file watcher unavailable: %v", err)
	} else {
		defer watcher.Stop()
	}

	program := tea.NewProgram(presenter, tea.WithAltScreen())
	_, err = program.Run()
	return err
}

func runHeadless(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWorkspace(workspace)
	if err != nil {
		return err
	}

	doc, err := notebook.Load(args[0])
	if err != nil {
		return err
	}

	notifier := stderrNotifier{}
	mgr, st, err := buildRuntime(cfg, doc, notifier)
	if err != nil {
		return err
	}
	defer st.Close()
	defer mgr.Dispose()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mgr.Initialize(ctx); err != nil {
		return err
	}

	halted, err := mgr.RunAll(ctx)
	if err != nil {
		return fmt.Errorf("run stopped at cell %d: %w", halted+1, err)
	}
	if err := doc.Save(); err != nil {
		return err
	}
	if halted >= 0 {
		return fmt.Errorf("cell %d raised an error; outputs saved", halted+1)
	}
	fmt.Printf("%d cells ran clean\n", doc.CellCount())
	return nil
}

func runKernels(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWorkspace(workspace)
	if err != nil {
		return err
	}

	doc, err := notebook.Load(args[0])
	if err != nil {
		return err
	}

	mgr, st, err := buildRuntime(cfg, doc, stderrNotifier{})
	if err != nil {
		return err
	}
	defer st.Close()
	defer mgr.Dispose()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mgr.Initialize(ctx); err != nil {
		return err
	}

	specs := mgr.GetAvailableKernelSpecs()
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	active := mgr.ActiveKernelName()
	for _, name := range names {
		marker := " "
		if name == active {
			marker = "*"
		}
		fmt.Printf("%s %-24s %s\n", marker, name, specs[name].DisplayName)
	}
	return nil
}

// stderrNotifier is the non-interactive Notifier for headless commands.
type stderrNotifier struct{}

func (stderrNotifier) Info(msg string)  { fmt.Fprintln(os.Stderr, msg) }
func (stderrNotifier) Warn(msg string)  { fmt.Fprintln(os.Stderr, "warning: "+msg) }
func (stderrNotifier) Error(msg string) { fmt.Fprintln(os.Stderr, "error: "+msg) }
