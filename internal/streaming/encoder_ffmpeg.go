package streaming

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/playout-media/playout/internal/ffmpeg"
)

// maxStderrLines bounds the stderr tail kept for failure diagnostics.
const maxStderrLines = 40

// ffmpegEncoder runs an ffmpeg process producing segments into a work
// directory, reporting completions parsed from the segment list on stdout
// and heartbeats parsed from progress lines on stderr.
type ffmpegEncoder struct {
	binaryPath string
	params     ffmpeg.EncodeParams
	workDir    string
	logger     *slog.Logger

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}

	stderrMu    sync.Mutex
	stderrLines []string
}

// NewFFmpegEncoder creates an encoder that launches the given ffmpeg
// binary with params, writing segments into workDir.
func NewFFmpegEncoder(binaryPath string, params ffmpeg.EncodeParams, workDir string, logger *slog.Logger) Encoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ffmpegEncoder{
		binaryPath: binaryPath,
		params:     params,
		workDir:    workDir,
		logger:     logger,
	}
}

// Start implements Encoder.
func (e *ffmpegEncoder) Start(ctx context.Context) (<-chan EncoderEvent, error) {
	if err := os.MkdirAll(e.workDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating encoder work dir: %w", err)
	}

	params := e.params
	params.OutputPattern = filepath.Join(e.workDir, params.OutputPattern)

	cmd := exec.Command(e.binaryPath, params.Args()...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}

	done := make(chan struct{})
	e.mu.Lock()
	e.cmd = cmd
	e.done = done
	e.mu.Unlock()

	e.logger.Debug("encoder started",
		slog.Int("pid", cmd.Process.Pid),
		slog.String("work_dir", e.workDir),
	)

	// Unbuffered: see the EncoderEvent doc for the backpressure contract.
	events := make(chan EncoderEvent)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.scanSegmentList(ctx, stdout, events)
	}()
	go func() {
		defer wg.Done()
		e.scanProgress(ctx, stderr, events)
	}()

	go func() {
		wg.Wait()
		err := cmd.Wait()
		close(done)

		exit := EncoderEvent{Kind: EventExit}
		if err != nil {
			exit.ExitCode = cmd.ProcessState.ExitCode()
			exit.Err = &EncoderError{ExitCode: exit.ExitCode, Stderr: e.stderrTail()}
		}

		select {
		case events <- exit:
		case <-ctx.Done():
		}
		close(events)
	}()

	return events, nil
}

// scanSegmentList reads CSV segment list lines ("name,start,end") from
// stdout and emits a segment event per completed segment.
func (e *ffmpegEncoder) scanSegmentList(ctx context.Context, r io.Reader, events chan<- EncoderEvent) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		name, duration, ok := parseSegmentListLine(line)
		if !ok {
			e.logger.Warn("unparseable segment list line", slog.String("line", line))
			continue
		}

		ev := EncoderEvent{
			Kind:            EventSegment,
			SegmentPath:     filepath.Join(e.workDir, name),
			SegmentDuration: duration,
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// scanProgress reads ffmpeg stderr, keeping a tail for diagnostics and
// emitting a heartbeat per progress line.
func (e *ffmpegEncoder) scanProgress(ctx context.Context, r io.Reader, events chan<- EncoderEvent) {
	scanner := bufio.NewScanner(r)
	scanner.Split(scanLinesWithCR)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		// Progress lines rewrite themselves with \r; keep only real
		// diagnostics in the tail.
		if !strings.Contains(line, "speed=") {
			e.appendStderr(line)
			continue
		}

		speed := parseEncodingSpeed(line)
		if speed <= 0 {
			continue
		}
		select {
		case events <- EncoderEvent{Kind: EventHeartbeat, Speed: speed}:
		case <-ctx.Done():
			return
		}
	}
}

// Stop implements Encoder. Escalation ladder: SIGTERM, then SIGKILL after
// the grace period.
func (e *ffmpegEncoder) Stop(grace time.Duration) {
	e.mu.Lock()
	cmd := e.cmd
	done := e.done
	e.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}

	pid := cmd.Process.Pid
	_ = cmd.Process.Signal(os.Interrupt)

	select {
	case <-done:
		return
	case <-time.After(grace):
		e.logger.Warn("encoder did not exit after SIGTERM, killing", slog.Int("pid", pid))
		_ = cmd.Process.Kill()
	}
}

func (e *ffmpegEncoder) appendStderr(line string) {
	e.stderrMu.Lock()
	defer e.stderrMu.Unlock()
	e.stderrLines = append(e.stderrLines, line)
	if len(e.stderrLines) > maxStderrLines {
		e.stderrLines = e.stderrLines[len(e.stderrLines)-maxStderrLines:]
	}
}

func (e *ffmpegEncoder) stderrTail() []string {
	e.stderrMu.Lock()
	defer e.stderrMu.Unlock()
	lines := make([]string, len(e.stderrLines))
	copy(lines, e.stderrLines)
	return lines
}

// parseSegmentListLine parses a CSV segment list line "name,start,end".
func parseSegmentListLine(line string) (name string, duration time.Duration, ok bool) {
	parts := strings.Split(line, ",")
	if len(parts) != 3 {
		return "", 0, false
	}
	start, err1 := strconv.ParseFloat(parts[1], 64)
	end, err2 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || end < start {
		return "", 0, false
	}
	return parts[0], time.Duration((end - start) * float64(time.Second)), true
}

// scanLinesWithCR handles both \r and \n as line delimiters. ffmpeg
// rewrites its progress line with carriage returns.
func scanLinesWithCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	for i := 0; i < len(data); i++ {
		if data[i] == '\r' || data[i] == '\n' {
			advance = i + 1
			for advance < len(data) && (data[advance] == '\r' || data[advance] == '\n') {
				advance++
			}
			return advance, data[0:i], nil
		}
	}

	if atEOF {
		return len(data), data, nil
	}

	return 0, nil, nil
}

// parseEncodingSpeed extracts the encoding speed multiplier from an ffmpeg
// progress line, e.g. "... speed=1.02x".
func parseEncodingSpeed(line string) float64 {
	idx := strings.Index(line, "speed=")
	if idx == -1 {
		return 0
	}

	speedStr := strings.TrimLeft(line[idx+6:], " ")
	if endIdx := strings.IndexAny(speedStr, "x \t"); endIdx > 0 {
		speedStr = speedStr[:endIdx]
	}

	speed, err := strconv.ParseFloat(strings.TrimSpace(speedStr), 64)
	if err != nil {
		return 0
	}
	return speed
}
