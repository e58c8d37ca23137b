//go:build unix

package engine

import (
	"io"
	"os"
	"sync"
	"time"
)

// stageIO owns the stdio pipes of one stage. The child gets plain file
// descriptors, so cmd.Wait returns when the child exits even if a process it
// spawned still holds stdout.
type stageIO struct {
	stdinR, stdinW   *os.File
	stdoutR, stdoutW *os.File
	stderrR, stderrW *os.File
	wg               sync.WaitGroup
}

func openStageIO() (*stageIO, error) {
	s := &stageIO{}
	var err error
	if s.stdinR, s.stdinW, err = os.Pipe(); err != nil {
		return nil, err
	}
	if s.stdoutR, s.stdoutW, err = os.Pipe(); err != nil {
		s.closeAll()
		return nil, err
	}
	if s.stderrR, s.stderrW, err = os.Pipe(); err != nil {
		s.closeAll()
		return nil, err
	}
	return s, nil
}

// pump closes the child ends in this process and starts copying.
func (s *stageIO) pump(stdin []byte, stdout, stderr io.Writer) {
	_ = s.stdinR.Close()
	_ = s.stdoutW.Close()
	_ = s.stderrW.Close()

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		if len(stdin) > 0 {
			_, _ = s.stdinW.Write(stdin)
		}
		_ = s.stdinW.Close()
	}()
	go func() {
		defer s.wg.Done()
		_, _ = io.Copy(stdout, s.stdoutR)
	}()
	go func() {
		defer s.wg.Done()
		_, _ = io.Copy(stderr, s.stderrR)
	}()
}

// drain waits up to delay for the copies to finish, then closes every pipe.
// It reports false when a pipe was still held open after delay.
func (s *stageIO) drain(delay time.Duration) bool {
	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	clean := true
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-finished:
	case <-timer.C:
		clean = false
		s.closeAll()
		<-finished
	}
	s.closeAll()
	return clean
}

func (s *stageIO) closeAll() {
	for _, f := range []*os.File{s.stdinR, s.stdinW, s.stdoutR, s.stdoutW, s.stderrR, s.stderrW} {
		if f != nil {
			_ = f.Close()
		}
	}
}
