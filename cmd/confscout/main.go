package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	client "github.com/confscout/go-client"
	"github.com/confscout/go-client/internal/config"
	"github.com/confscout/go-client/notifications"
)

const appName = "confscout"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("CONFSCOUT_DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if err := run(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func run(args []string) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	flags := flag.NewFlagSet(appName, flag.ExitOnError)
	configPath := flags.String("config", "", "path to config file")
	flags.Usage = usage
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() == 0 {
		usage()
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return errors.Wrap(err, "loading config")
	}

	command := flags.Arg(0)
	rest := flags.Args()[1:]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core, err := client.New(cfg,
		client.WithNavigator(func(target string) {
			fmt.Printf("session ended, sign in again (%s)\n", target)
		}),
		client.WithOnNotification(func(n notifications.Notification) {
			fmt.Printf("* %s  %s  %s\n", n.ID, n.CreatedAt.Format("15:04:05"), n.Title)
		}),
	)
	if err != nil {
		return errors.Wrap(err, "assembling client")
	}
	defer core.Close()

	if err := core.Start(ctx); err != nil {
		log.Warn().Err(err).Msg("session verification failed, starting logged out")
	}

	switch command {
	case "login":
		return cmdLogin(ctx, core, rest)
	case "logout":
		core.Sessions.SignOut(ctx)
		fmt.Println("signed out")
		return nil
	case "whoami":
		return cmdWhoami(core)
	case "list":
		return cmdList(ctx, core, rest)
	case "watch":
		return cmdWatch(ctx, core)
	case "mark-read", "mark-unread", "important", "unimportant", "delete":
		return cmdAction(ctx, core, command, rest)
	default:
		usage()
		return errors.Errorf("unknown command %q", command)
	}
}

func cmdLogin(ctx context.Context, core *client.Core, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: confscout login <email>")
	}
	email := args[0]

	fmt.Print("password: ")
	reader := bufio.NewReader(os.Stdin)
	password, err := reader.ReadString('\n')
	if err != nil {
		return errors.Wrap(err, "reading password")
	}
	password = strings.TrimRight(password, "\r\n")

	target, err := core.Sessions.SignIn(ctx, email, password)
	if err != nil {
		return errors.Wrap(err, "sign in")
	}

	ident := core.Sessions.Current().Identity
	fmt.Printf("signed in as %s %s <%s>, continue at %s\n", ident.FirstName, ident.LastName, ident.Email, target)
	return nil
}

func cmdWhoami(core *client.Core) error {
	s := core.Sessions.Current()
	if !s.LoggedIn {
		fmt.Println("not signed in")
		return nil
	}
	fmt.Printf("%s %s <%s> role=%s id=%s\n",
		s.Identity.FirstName, s.Identity.LastName, s.Identity.Email, s.Identity.Role, s.Identity.ID)
	return nil
}

func cmdList(ctx context.Context, core *client.Core, args []string) error {
	flags := flag.NewFlagSet("list", flag.ExitOnError)
	view := flags.String("view", "all", "view: all|unread|read|important")
	search := flags.String("search", "", "search term")
	page := flags.Int("page", 0, "page index")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if core.Sessions.Current().LoggedIn {
		if err := core.Refresh(ctx); err != nil {
			log.Warn().Err(err).Msg("showing cached notifications")
		}
	}

	items, total := core.Set.Page(notifications.View(*view), *search, *page, core.Config.PageSize)
	for _, n := range items {
		marker := " "
		if !n.Seen() {
			marker = "*"
		}
		important := ""
		if n.Important {
			important = " !"
		}
		fmt.Printf("%s %s  %s  %s%s\n", marker, n.ID, n.CreatedAt.Format("2006-01-02 15:04"), n.Title, important)
	}
	fmt.Printf("%d of %d (%d unread)\n", len(items), total, core.Set.UnseenCount())
	return nil
}

func cmdWatch(ctx context.Context, core *client.Core) error {
	displayAppname(appName)

	if !core.Sessions.Current().LoggedIn {
		return errors.New("not signed in")
	}

	fmt.Println("watching for notifications, ctrl-c to stop")
	<-ctx.Done()
	return nil
}

func cmdAction(ctx context.Context, core *client.Core, command string, ids []string) error {
	if len(ids) == 0 {
		return errors.Errorf("usage: confscout %s <id>...", command)
	}

	ops := map[string]notifications.Op{
		"mark-read":   notifications.OpMarkRead,
		"mark-unread": notifications.OpMarkUnread,
		"important":   notifications.OpMarkImportant,
		"unimportant": notifications.OpMarkUnimportant,
		"delete":      notifications.OpDelete,
	}

	if err := core.Apply(ctx, ops[command], ids); err != nil {
		return errors.Wrapf(err, "%s", command)
	}
	fmt.Printf("%s applied to %d notification(s)\n", command, len(ids))
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: confscout [-config path] <command>

commands:
  login <email>        sign in with email and password
  logout               sign out
  whoami               show the current identity
  list                 list notifications (-view, -search, -page)
  watch                stream notifications until interrupted
  mark-read <id>...    mark notifications read
  mark-unread <id>...  mark notifications unread
  important <id>...    flag notifications important
  unimportant <id>...  unflag notifications
  delete <id>...       delete notifications
`)
}
