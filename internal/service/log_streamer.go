package service

import (
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"wg-tunnels/internal/core"
)

const (
	// logRingSize is the max number of log entries kept for /logs.
	logRingSize = 2000
	// logChannelSize is the buffer size for each follower.
	logChannelSize = 256
	defaultLogTail = 200
)

// LogEntry is a single captured log line.
type LogEntry struct {
	Time    time.Time     `json:"time"`
	Level   core.LogLevel `json:"level"`
	Tag     string        `json:"tag"`
	Message string        `json:"message"`
}

// LogFollower receives entries logged after it subscribed.
type LogFollower struct {
	C        <-chan LogEntry
	ch       chan LogEntry
	minLevel core.LogLevel
	tag      string
}

func (f *LogFollower) wants(e LogEntry) bool {
	return e.Level >= f.minLevel && (f.tag == "" || e.Tag == f.tag)
}

// LogStreamer keeps recent daemon log lines in a ring and fans new ones out
// to followers.
type LogStreamer struct {
	mu        sync.Mutex
	ring      []LogEntry
	pos       int
	full      bool
	followers map[*LogFollower]struct{}
	stopped   bool
}

func NewLogStreamer() *LogStreamer {
	return &LogStreamer{
		ring:      make([]LogEntry, logRingSize),
		followers: make(map[*LogFollower]struct{}),
	}
}

// Start installs the capture hook into the core logger.
func (ls *LogStreamer) Start() {
	core.Log.SetHook(ls.capture)
}

// Stop removes the hook and closes all followers.
func (ls *LogStreamer) Stop() {
	core.Log.SetHook(nil)
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.stopped = true
	for f := range ls.followers {
		close(f.ch)
		delete(ls.followers, f)
	}
}

// Follow registers a follower. Slow followers miss lines rather than block
// the logger.
func (ls *LogStreamer) Follow(minLevel core.LogLevel, tag string) *LogFollower {
	ch := make(chan LogEntry, logChannelSize)
	f := &LogFollower{C: ch, ch: ch, minLevel: minLevel, tag: tag}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.stopped {
		close(ch)
		return f
	}
	ls.followers[f] = struct{}{}
	return f
}

// Unfollow removes f and closes its channel.
func (ls *LogStreamer) Unfollow(f *LogFollower) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if _, ok := ls.followers[f]; ok {
		close(f.ch)
		delete(ls.followers, f)
	}
}

func (ls *LogStreamer) capture(level core.LogLevel, tag, msg string) {
	e := LogEntry{Time: time.Now(), Level: level, Tag: tag, Message: msg}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.ring[ls.pos] = e
	ls.pos++
	if ls.pos == logRingSize {
		ls.pos = 0
		ls.full = true
	}
	for f := range ls.followers {
		if !f.wants(e) {
			continue
		}
		select {
		case f.ch <- e:
		default:
		}
	}
}

// Tail returns up to n of the most recent entries matching the filter,
// oldest first.
func (ls *LogStreamer) Tail(n int, minLevel core.LogLevel, tag string) []LogEntry {
	filter := LogFollower{minLevel: minLevel, tag: tag}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	total := ls.pos
	if ls.full {
		total = logRingSize
	}
	out := make([]LogEntry, 0, min(n, total))
	// Walk backwards from the newest entry.
	for i := 0; i < total && len(out) < n; i++ {
		idx := (ls.pos - 1 - i + logRingSize) % logRingSize
		if e := ls.ring[idx]; filter.wants(e) {
			out = append(out, e)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// getLogs returns the tail of the log. With ?follow=true it keeps streaming
// new lines as server-sent events.
func (s *Service) getLogs(c *gin.Context) {
	n := defaultLogTail
	if v := c.Query("tail"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: "tail must be a non-negative integer"})
			return
		}
		n = parsed
	}
	level := core.LevelDebug
	if v := c.Query("level"); v != "" {
		level = core.ParseLevel(v)
	}
	tag := c.Query("tag")

	follow, _ := strconv.ParseBool(c.Query("follow"))
	if !follow {
		c.JSON(http.StatusOK, s.logs.Tail(n, level, tag))
		return
	}

	f := s.logs.Follow(level, tag)
	defer s.logs.Unfollow(f)
	backlog := s.logs.Tail(n, level, tag)

	startStream(c)
	c.Stream(func(w io.Writer) bool {
		if len(backlog) > 0 {
			for _, e := range backlog {
				c.SSEvent("log", e)
			}
			backlog = nil
			return true
		}
		select {
		case <-c.Request.Context().Done():
			return false
		case e, ok := <-f.C:
			if !ok {
				return false
			}
			c.SSEvent("log", e)
			return true
		}
	})
}
