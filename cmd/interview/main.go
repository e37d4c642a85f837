package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/eleven-am/interview-realtime/internal/bootstrap"
	"github.com/eleven-am/interview-realtime/internal/capture"
	"github.com/eleven-am/interview-realtime/internal/engine"
	"github.com/eleven-am/interview-realtime/internal/interview"
	"github.com/eleven-am/interview-realtime/internal/playback"
	"github.com/eleven-am/interview-realtime/internal/realtime"
	"github.com/eleven-am/interview-realtime/internal/shared"
	"github.com/eleven-am/interview-realtime/internal/transport"
)

const help = `Commands:
  /rec     start recording an answer
  /send    stop recording and send it
  /cancel  stop recording and discard it
  /end     finish the interview and print feedback
  anything else is sent as a text answer`

func main() {
	role := flag.String("role", "", "role being interviewed for")
	name := flag.String("name", "", "candidate name")
	difficulty := flag.String("difficulty", "", "question difficulty")
	count := flag.Int("questions", 0, "number of questions, 0 lets the engine decide")
	voice := flag.Bool("voice", true, "ask the engine for spoken questions")
	flag.Parse()

	if *role == "" {
		fmt.Fprintln(os.Stderr, "-role is required")
		os.Exit(2)
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	factory := interview.NewFactory(interview.FactoryConfig{
		Realtime: bootstrap.ProvideRealtimeConfig(cfg),
		Capture:  bootstrap.ProvideCaptureConfig(cfg),
		Dialer:   bootstrap.ProvideDialer(cfg),
		Device:   capture.NewMalgoDevice(logger),
		Sink:     playback.NewMalgoSink(logger),
	})

	id := shared.NewID("cli_")
	s := interview.NewSession(
		id,
		factory(id, logger.With("session_id", id)),
		bootstrap.ProvideEngineClient(cfg, logger),
		interview.SessionConfig{ChunkSize: cfg.ChunkSize, UploadRecordings: cfg.UploadRecordings},
		interview.Callbacks{
			OnStatus:  printStatus,
			OnMessage: printMessage,
		},
		logger,
	)
	defer s.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	planCtx, cancel := context.WithTimeout(ctx, cfg.EngineTimeout)
	err = s.Plan(planCtx, engine.PlanRequest{
		CandidateName: *name,
		Role:          *role,
		Difficulty:    *difficulty,
		QuestionCount: *count,
		Voice:         *voice,
	})
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start interview: %v\n", err)
		stop()
		_ = s.Close()
		os.Exit(1)
	}
	fmt.Println(help)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			finish(s)
			return
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/end" {
				finish(s)
				return
			}
			if err := handleLine(ctx, s, strings.TrimSpace(line)); err != nil {
				fmt.Printf("! %v\n", err)
			}
		}
	}
}

func handleLine(ctx context.Context, s *interview.Session, line string) error {
	switch line {
	case "":
		return nil
	case "/rec":
		if err := s.StartAnswer(ctx, nil); err != nil {
			return err
		}
		fmt.Println("recording, /send when done")
		return nil
	case "/send":
		result, err := s.FinishAnswer(ctx)
		if err != nil {
			return err
		}
		if result.Pending {
			fmt.Println("connection lost, answer will be sent after reconnect")
			return nil
		}
		if result.Chunks == 0 {
			fmt.Println("nothing was recorded")
			return nil
		}
		fmt.Printf("sent %d bytes in %d chunks\n", result.Bytes, result.Chunks)
		return nil
	case "/cancel":
		s.CancelAnswer()
		return nil
	default:
		return s.AnswerText(line)
	}
}

func finish(s *interview.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	feedback, err := s.End(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Interview ended with error: %v\n", err)
	}
	if feedback != nil {
		fmt.Printf("Feedback (%s): %s\n", feedback.Status, feedback.DetailedFeedback)
	}
}

func printStatus(_ *interview.Session, change realtime.StatusChange) {
	switch change.Status {
	case realtime.StatusReconnecting:
		fmt.Printf("~ connection lost, retrying in %s (attempt %d)\n", change.Delay, change.Attempt)
	case realtime.StatusDisconnected:
		if change.Err != nil {
			fmt.Printf("~ connection closed: %v\n", change.Err)
		}
	case realtime.StatusConnected:
		fmt.Println("~ connected")
	}
}

func printMessage(_ *interview.Session, msg transport.InboundMessage) {
	switch m := msg.(type) {
	case transport.Question:
		fmt.Printf("\nQ%s: %s\n", m.QuestionID, m.Text)
	case transport.FollowUpQuestion:
		fmt.Printf("\nQ%s (follow-up): %s\n", m.QuestionID, m.Text)
	case transport.TranscriptionResult:
		fmt.Printf("heard: %s\n", m.Text)
	case transport.Evaluation:
		fmt.Printf("evaluation: %s\n", m.Payload)
	case transport.InterviewComplete:
		fmt.Println("interview complete, /end for feedback")
	case transport.ProtocolError:
		fmt.Printf("engine error: %s\n", m.Message)
	}
}
