package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"

	"apk-builder-be/internal/entity"
	"apk-builder-be/pkg/integrity"
	"apk-builder-be/pkg/syncclient"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/opencontainers/go-digest"
	flag "github.com/spf13/pflag"
)

var (
	okColor   = color.New(color.FgGreen).SprintFunc()
	runColor  = color.New(color.FgCyan).SprintFunc()
	warnColor = color.New(color.FgYellow).SprintFunc()
	errColor  = color.New(color.FgRed, color.Bold).SprintFunc()
	dimColor  = color.New(color.Faint).SprintFunc()
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system env")
	}

	defaultServer := os.Getenv("APP_BUILDER_URL")
	if defaultServer == "" {
		defaultServer = "http://localhost:3000/api/app-builder"
	}

	file := flag.String("file", "", "path of the .apk/.xapk/.apks file to upload")
	server := flag.String("server", defaultServer, "app builder base url")
	fileType := flag.String("type", "", "file type (apk, xapk, apks); defaults to the file extension")
	chunkSize := flag.Int("chunk", syncclient.DefaultChunkSize, "chunk size in bytes")
	connectionID := flag.String("resume", "", "resume an existing session instead of creating one")
	flag.Parse()

	if *file == "" {
		flag.Usage()
		os.Exit(2)
	}
	if *fileType == "" {
		*fileType = strings.TrimPrefix(strings.ToLower(filepath.Ext(*file)), ".")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	f, err := os.Open(*file)
	if err != nil {
		log.Fatalf("open %s: %v", *file, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		log.Fatalf("stat %s: %v", *file, err)
	}

	hash, _, err := integrity.Sum(ctx, digest.SHA256, f, nil)
	if err != nil {
		log.Fatalf("hash %s: %v", *file, err)
	}
	fmt.Printf("%s %s (%d bytes)\n", dimColor("sha256"), hash, info.Size())

	uploader := syncclient.NewUploader(*server)
	id := *connectionID
	if id == "" {
		if id, err = uploader.PreFetch(hash, *fileType); err != nil {
			log.Fatalf("pre-fetch: %v", err)
		}
	}
	fmt.Printf("%s %s\n", dimColor("session"), id)

	watchCtx, cancelWatch := context.WithCancel(ctx)
	var wg sync.WaitGroup
	if watcher, err := syncclient.NewWatcher(wsURL(*server), id, syncclient.NewMirror()); err != nil {
		log.Printf("watcher disabled: %v", err)
	} else {
		watcher.OnChange = newStepPrinter()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := watcher.Run(watchCtx); err != nil {
				log.Printf("watcher stopped: %v", err)
			}
		}()
	}

	res, err := uploader.Upload(id, hash, f, info.Size(), *chunkSize, func(uploaded int64) {
		fmt.Printf("%s %d/%d bytes\n", dimColor("uploaded"), uploaded, info.Size())
	})
	if err != nil {
		cancelWatch()
		wg.Wait()
		log.Fatalf("upload: %s", errColor(err.Error()))
	}

	verification := res.Verification
	if verification == nil {
		if verification, err = uploader.Verify(id, hash); err != nil {
			cancelWatch()
			wg.Wait()
			log.Fatalf("verify: %s", errColor(err.Error()))
		}
	}

	cancelWatch()
	wg.Wait()

	if !verification.OK {
		fmt.Printf("%s expected %s, server computed %s\n", errColor("hash mismatch"), hash, verification.ComputedHash)
		os.Exit(1)
	}
	fmt.Printf("%s %d bytes\n", okColor("verified"), verification.Size)
}

// newStepPrinter prints a line whenever a step changes status or progress.
func newStepPrinter() func(entity.Envelope) {
	last := map[string]entity.Step{}
	return func(env entity.Envelope) {
		for _, step := range env.State.Steps {
			prev, seen := last[step.Name]
			if seen && prev.Status == step.Status && prev.Progress == step.Progress {
				continue
			}
			last[step.Name] = step

			line := fmt.Sprintf("[%s] %-8s %3d%% %s", paint(step.Status), step.Name, step.Progress, step.Description)
			if step.Error != nil && *step.Error != "" {
				line += " " + errColor(*step.Error)
			}
			fmt.Println(line)
		}
	}
}

func paint(status entity.StepStatus) string {
	s := string(status)
	switch status {
	case entity.StepStatusSuccess:
		return okColor(s)
	case entity.StepStatusRunning:
		return runColor(s)
	case entity.StepStatusWarning, entity.StepStatusCancelled:
		return warnColor(s)
	case entity.StepStatusError:
		return errColor(s)
	default:
		return dimColor(s)
	}
}

func wsURL(server string) string {
	switch {
	case strings.HasPrefix(server, "https://"):
		return "wss://" + strings.TrimPrefix(server, "https://") + "/ws"
	case strings.HasPrefix(server, "http://"):
		return "ws://" + strings.TrimPrefix(server, "http://") + "/ws"
	}
	return server + "/ws"
}
