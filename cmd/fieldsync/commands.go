package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alexjbarnes/fieldsync/internal/hierarchy"
	"github.com/alexjbarnes/fieldsync/internal/kv"
	"github.com/alexjbarnes/fieldsync/internal/models"
	"github.com/alexjbarnes/fieldsync/internal/offline"
	"github.com/alexjbarnes/fieldsync/internal/pagination"
	"github.com/alexjbarnes/fieldsync/internal/reachability"
	"github.com/alexjbarnes/fieldsync/internal/result"
	"github.com/alexjbarnes/fieldsync/internal/session"
	"github.com/alexjbarnes/fieldsync/internal/updates"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// withApp runs fn with a signal-scoped context and an opened app.
func withApp(fn func(ctx context.Context, a *app) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Watch connectivity and reconcile queued writes",
		Long: `Run the connectivity monitor in the foreground. Queued submissions are
pushed on start and every time connectivity comes back. SIGUSR1 marks
the host as backgrounded and SIGUSR2 as foregrounded again, which
forces an immediate re-probe.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(runDaemon)
		},
	}
}

func runDaemon(ctx context.Context, a *app) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.monitor.Run(gctx)
	})

	g.Go(func() error {
		src := &reachability.ResolvConfSource{Path: a.cfg.ResolvConf, Logger: a.logger}
		if err := src.Run(gctx, a.monitor); err != nil && gctx.Err() == nil {
			// No resolver file to watch; the backoff loop still notices
			// recovery.
			a.logger.Warn("resolver watch disabled", slog.String("error", err.Error()))
		}

		return nil
	})

	g.Go(func() error {
		a.orch.Watch(gctx, a.monitor)
		return nil
	})

	g.Go(func() error {
		lifecycle := make(chan os.Signal, 1)
		signal.Notify(lifecycle, syscall.SIGUSR1, syscall.SIGUSR2)
		defer signal.Stop(lifecycle)

		for {
			select {
			case <-gctx.Done():
				return nil
			case sig := <-lifecycle:
				state := reachability.StateActive
				if sig == syscall.SIGUSR1 {
					state = reachability.StateBackground
				}

				a.monitor.SetAppState(gctx, state)
			}
		}
	})

	a.logger.Info("fieldsync running", slog.String("version", Version))

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

func newLoginCmd() *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			return withApp(func(ctx context.Context, a *app) error {
				resp, err := a.client.Login(ctx, username, password)
				if err != nil {
					return fmt.Errorf("signing in: %w", err)
				}

				login := session.Login{
					AccessToken:     resp.AccessToken,
					BaseURL:         a.client.BaseURL(),
					UserRole:        resp.UserRole,
					LicenseUserRole: resp.LicenseUserRole,
					UserID:          resp.UserID,
					Password:        password,
				}

				if err := a.session.SaveLogin(login); err != nil {
					return fmt.Errorf("saving session: %w", err)
				}

				return writeYAML(cmd.OutOrStdout(), login)
			})
		},
	}

	cmd.Flags().StringVar(&username, "user", "", "Account user name")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	fmt.Fprint(prompt, "Password: ")

	scanner := bufio.NewScanner(in)
	if !scanner.Scan() {
		return "", fmt.Errorf("no password on input")
	}

	password := strings.TrimRight(scanner.Text(), "\r")
	if password == "" {
		return "", fmt.Errorf("empty password")
	}

	return password, nil
}

type probeOutput struct {
	Usable            bool   `yaml:"usable"`
	Connected         bool   `yaml:"connected"`
	Reachable         bool   `yaml:"reachable"`
	ReachabilityKnown bool   `yaml:"reachability_known"`
	Quality           string `yaml:"quality"`
}

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Report connectivity and connection quality",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				a.observe(ctx)
				st := a.monitor.Last()

				return writeYAML(cmd.OutOrStdout(), probeOutput{
					Usable:            st.Usable(),
					Connected:         st.Connected,
					Reachable:         st.Reachable,
					ReachabilityKnown: st.ReachabilityKnown,
					Quality:           a.prober.Check(ctx).String(),
				})
			})
		},
	}
}

func newUpdateCheckCmd() *cobra.Command {
	var (
		avail     updates.Availability
		dismissed bool
	)

	cmd := &cobra.Command{
		Use:   "update-check",
		Short: "Decide which update prompt to show",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				gate := updates.NewGate(a.plain, a.prober, a.logger)
				prompt := checkUpdates(ctx, gate, avail, a.observe(ctx), dismissed)

				fmt.Fprintln(cmd.OutOrStdout(), prompt.String())

				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&avail.Mandatory, "mandatory", false, "A mandatory update is available")
	cmd.Flags().BoolVar(&avail.Optional, "optional", false, "An optional update is available")
	cmd.Flags().BoolVar(&dismissed, "dismissed", false, "The optional prompt was already dismissed this session")

	return cmd
}

// checkUpdates evaluates the gate, first recording a dismissal the host
// reported for this session.
func checkUpdates(ctx context.Context, gate *updates.Gate, avail updates.Availability, usable, dismissed bool) updates.Prompt {
	if dismissed {
		gate.Dismiss()
	}

	return gate.Evaluate(ctx, avail, usable)
}

type listFlags struct {
	pageSize int
	pages    int
	search   string
	assignee string
}

func (f *listFlags) register(cmd *cobra.Command, withAssignee bool) {
	cmd.Flags().IntVar(&f.pageSize, "page-size", 0, "Items per page (default from config)")
	cmd.Flags().IntVar(&f.pages, "pages", 1, "Number of pages to load")
	cmd.Flags().StringVar(&f.search, "search", "", "Search text, at least 3 characters")

	if withAssignee {
		cmd.Flags().StringVar(&f.assignee, "assignee", "", "Only items assigned to this user (default from config)")
	}
}

func newInspectionsCmd() *cobra.Command {
	var flags listFlags

	cmd := &cobra.Command{
		Use:   "inspections",
		Short: "List inspections, from the API when online or the cache when not",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				a.observe(ctx)

				q := flags.query(a)
				if q.AssignedTo == "" {
					q.AssignedTo = a.cfg.Assignee
				}

				return listAndPrint(ctx, cmd.OutOrStdout(), a, q, flags, a.orch.Inspections)
			})
		},
	}

	flags.register(cmd, true)

	return cmd
}

func newSubmissionsCmd() *cobra.Command {
	var flags listFlags

	cmd := &cobra.Command{
		Use:   "submissions",
		Short: "List submissions, including ones still queued locally",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				a.observe(ctx)

				return listAndPrint(ctx, cmd.OutOrStdout(), a, flags.query(a), flags, a.orch.Submissions)
			})
		},
	}

	flags.register(cmd, false)

	return cmd
}

func (f *listFlags) query(a *app) models.ListQuery {
	size := f.pageSize
	if size <= 0 {
		size = a.cfg.PageSize
	}

	return models.ListQuery{Page: 1, PageSize: size, AssignedTo: f.assignee}
}

type listOutput[T any] struct {
	Cursor pagination.Cursor `yaml:"cursor"`
	Source string            `yaml:"source"`
	Items  []T               `yaml:"items"`
}

// listAndPrint drives a pagination.View over an orchestrator read and
// prints the accumulated list.
func listAndPrint[T models.Entity](ctx context.Context, w io.Writer, a *app, base models.ListQuery, flags listFlags, read pageReader[T]) error {
	var source offline.Source

	load := pageLoader(read, func(p offline.Page[T]) {
		source = p.Source
		if p.Fallback != nil {
			a.logger.Warn("served from cache", slog.String("error", p.Fallback.Error()))
		}
	})

	searched := make(chan error, 1)

	view := pagination.NewView(ctx, base, load, pagination.ViewOptions{
		SearchDelay: a.cfg.SearchDebounce,
		Logger:      a.logger,
		OnSearchLoaded: func(err error) {
			searched <- err
		},
	})
	defer view.Close()

	if err := firstPage(ctx, view, flags.search, searched, a.logger); err != nil {
		return err
	}

	for i := 1; i < flags.pages && view.Cursor().HasMore; i++ {
		if err := view.More(ctx); err != nil {
			return err
		}
	}

	return writeYAML(w, listOutput[T]{
		Cursor: view.Cursor(),
		Source: string(source),
		Items:  view.Items(),
	})
}

// firstPage loads page 1, through the debounced search path when the
// search text is long enough to be applied.
func firstPage[T models.Entity](ctx context.Context, view *pagination.View[T], search string, searched <-chan error, logger *slog.Logger) error {
	normalized := pagination.NormalizeSearch(search)
	if normalized == "" {
		return view.Refresh(ctx)
	}

	if !pagination.SearchEligible(normalized) {
		logger.Warn("search ignored, too short",
			slog.Int("min_chars", pagination.MinSearchRunes),
		)

		return view.Refresh(ctx)
	}

	view.Search(search)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-searched:
		return err
	}
}

type pageReader[T any] func(ctx context.Context, q models.ListQuery) (offline.Page[T], error)

// pageLoader adapts an orchestrator read into a pagination.Loader.
func pageLoader[T any](read pageReader[T], onPage func(offline.Page[T])) pagination.Loader[T] {
	return func(ctx context.Context, q models.ListQuery) ([]T, error) {
		p, err := read(ctx, q)
		if err != nil {
			return nil, err
		}

		if onPage != nil {
			onPage(p)
		}

		return p.Items, nil
	}
}

type documentsOutput struct {
	Path     []string              `yaml:"path"`
	Source   string                `yaml:"source"`
	Children []models.DocumentNode `yaml:"children"`
}

func newDocumentsCmd() *cobra.Command {
	var resume bool

	cmd := &cobra.Command{
		Use:   "documents [folder-id...]",
		Short: "Browse the document tree",
		Long: `Walk the document tree from the root through each folder id given and
print the children of the last one. Offline, children already shown on
the way are kept ahead of cached ones.

With --continue and no folder ids, the path browsed last is walked again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				a.observe(ctx)

				path := args
				if resume && len(path) == 0 {
					path = lastPath(a.plain)
				}

				if err := browse(ctx, cmd.OutOrStdout(), a.orch, path); err != nil {
					return err
				}

				rememberPath(a.plain, path)

				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&resume, "continue", false, "Resume from the folder browsed last")

	return cmd
}

// pathFlags is the plain store surface used to remember the browse path.
type pathFlags interface {
	Get(flag kv.Flag) result.Result[string]
	Set(flag kv.Flag, value string) result.Result[struct{}]
}

const pathSep = "/"

// lastPath returns the folder ids stored by the last successful browse.
func lastPath(flags pathFlags) []string {
	raw := flags.Get(kv.NavigationContinue).OrElse("")
	if raw == "" {
		return nil
	}

	return strings.Split(raw, pathSep)
}

func rememberPath(flags pathFlags, path []string) {
	flags.Set(kv.NavigationContinue, strings.Join(path, pathSep))
}

func browse(ctx context.Context, w io.Writer, lister hierarchy.Lister, path []string) error {
	src := &sourceLister{next: lister}
	r := hierarchy.NewResolver(src)

	var frame hierarchy.Frame

	for _, id := range append([]string{models.RootFolderID}, path...) {
		var err error

		frame, err = r.Enter(ctx, id, nameIn(frame.Snapshot, id))
		if err != nil {
			return err
		}
	}

	return writeYAML(w, documentsOutput{
		Path:     r.Trail().Names(),
		Source:   string(src.last),
		Children: frame.Snapshot,
	})
}

// sourceLister remembers where the last folder listing came from.
type sourceLister struct {
	next hierarchy.Lister
	last offline.Source
}

func (s *sourceLister) Folder(ctx context.Context, folderID string) (offline.Page[models.DocumentNode], error) {
	p, err := s.next.Folder(ctx, folderID)
	if err == nil {
		s.last = p.Source
	}

	return p, err
}

func nameIn(nodes []models.DocumentNode, id string) string {
	for _, n := range nodes {
		if n.NodeID == id {
			return n.Name
		}
	}

	return id
}

func newSubmitCmd() *cobra.Command {
	var inspectionID, contentID, payloadPath string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue an inspection result and push it when online",
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload, err := readPayload(cmd.InOrStdin(), payloadPath)
			if err != nil {
				return err
			}

			return withApp(func(ctx context.Context, a *app) error {
				a.observe(ctx)

				s, err := a.orch.QueueSubmission(ctx, inspectionID, contentID, payload)
				if err != nil {
					return err
				}

				return writeYAML(cmd.OutOrStdout(), s)
			})
		},
	}

	cmd.Flags().StringVar(&inspectionID, "inspection", "", "Inspection id")
	cmd.Flags().StringVar(&contentID, "content", "", "Server content id")
	cmd.Flags().StringVar(&payloadPath, "payload", "-", "Payload file, - for stdin")
	_ = cmd.MarkFlagRequired("inspection")

	return cmd
}

func readPayload(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)

	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}

	if err != nil {
		return "", fmt.Errorf("reading payload: %w", err)
	}

	return strings.TrimSpace(string(data)), nil
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Push queued submissions now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				a.observe(ctx)

				report, err := a.orch.Refresh(ctx)
				if err != nil {
					return err
				}

				return writeYAML(cmd.OutOrStdout(), report)
			})
		},
	}
}
