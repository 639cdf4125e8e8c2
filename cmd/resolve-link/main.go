package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"

	"github.com/r3labs/diff/v3"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/grabtap/mediaresolve"
	"github.com/grabtap/mediaresolve/async"
	"github.com/grabtap/mediaresolve/internal/session"
	"github.com/grabtap/mediaresolve/internal/sync_"
	_ "github.com/grabtap/mediaresolve/providers"
)

func main() {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := config.Build()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logger.Sync()
	zap.RedirectStdLog(logger)
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := &cli.App{
		Name:  "resolve-link",
		Usage: "resolve media share links into direct download URLs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "provider",
				Usage: "only try the named `PROVIDER` instead of matching all of them",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "no progress bar, just the JSON results",
			},
		},
		Action: func(c *cli.Context) error {
			for _, input := range c.Args().Slice() {
				if err := resolve(ctx, input, c.String("provider"), c.Bool("quiet")); err != nil {
					return err
				}
			}
			return nil
		},
		HideHelpCommand: true,
	}

	result := async.Run(func() error { return app.Run(os.Args) })

	select {
	case err = <-result:
		if err != nil {
			logger.Fatal(err.Error())
		}
	case <-ctx.Done():
		stop()
		err = <-result
		if err != nil {
			logger.Fatal(err.Error())
		}
	}
}

func resolve(ctx context.Context, input string, provider string, quiet bool) error {
	logger := zap.S()
	logger.Infof("Resolving %s", input)

	if provider != "" {
		// Single-provider mode doesn't need lifecycle tracking.
		return printResult(mediaresolve.ResolveWith(ctx, provider, input))
	}

	ses, err := session.New(session.DefaultConfig, ctx)
	if err != nil {
		return err
	}
	defer ses.Close()

	events, err := ses.Subscribe()
	if err != nil {
		return err
	}
	var bar *progressbar.ProgressBar
	if !quiet {
		bar = progressbar.NewOptions(100,
			progressbar.OptionSetDescription("resolving"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionClearOnFinish(),
		)
	}
	var started sync_.Event
	var stopped sync_.Event
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for event := range events.Receive() {
			switch e := event.(type) {
			case session.ResolutionStarted:
				started.Set()
			case session.ResolutionStopped:
				stopped.Set()
			case session.ResolutionUpdated:
				changes, err := diff.Diff(e.OldState, e.NewState)
				if err != nil {
					logger.Errorf("failed to diff old and new resolution state: %v", err)
				} else {
					for _, change := range changes {
						logger.Debugf("%v: %#v -> %#v", change.Path, change.From, change.To)
					}
				}
				if bar != nil && e.NewState.Progress != e.OldState.Progress {
					_ = bar.Set(e.NewState.Progress)
				}
			}
		}
	}()

	r, err := ses.AddResolution(input)
	if err != nil {
		return err
	}
	r.Start()
	<-started.Wait()

	select {
	case <-stopped.Wait():
	case <-ctx.Done():
		logger.Info("Exiting gracefully...")
	}
	if bar != nil {
		_ = bar.Finish()
	}

	state, err := r.State()
	if err == nil && state.Result != nil {
		if err := printResult(*state.Result); err != nil {
			return err
		}
	}

	ses.Close()
	wg.Wait()

	return nil
}

func printResult(result mediaresolve.MediaResult) error {
	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
