package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	afteryou "github.com/Swind/go-after-you"
	"github.com/Swind/go-after-you/core"
	"github.com/Swind/go-after-you/worker"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/urfave/cli/v2"
)

func tuiCommand() *cli.Command {
	return &cli.Command{
		Name:  "tui",
		Usage: "Interactive view: keystrokes are host input competing with a long job",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "job",
				Value: 10 * time.Second,
				Usage: "CPU time of the background job",
			},
		},
		Action: tuiAction,
	}
}

func tuiAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	// The TUI owns the terminal; keep runtime logs off it
	rt := afteryou.New(cfg, afteryou.RuntimeOptions{Logger: core.NewNoOpLogger()})
	defer rt.Close()
	if !rt.Capabilities().SelfDriving {
		return cli.Exit("tui needs a self-driving host (host.self_driving: true)", 1)
	}

	m := newTUIModel(rt, c.Duration("job"))
	p := tea.NewProgram(m, tea.WithAltScreen())
	m.send = p.Send

	if _, err := p.Run(); err != nil {
		return cli.Exit(fmt.Sprintf("Error running TUI: %v", err), 1)
	}
	return nil
}

// Messages sent from scheduler tasks back to the UI
type (
	jobProgressMsg float64
	jobDoneMsg     struct{ err error }
	inputMsg       struct{ latency time.Duration }
	taskRanMsg     struct {
		name     string
		priority afteryou.Priority
	}
	workerMsg struct {
		result int
		err    error
	}
	statsTickMsg time.Time
)

type tuiModel struct {
	rt   *afteryou.Runtime
	send func(tea.Msg)
	job  time.Duration

	spinner  spinner.Model
	progress progress.Model

	jobRunning  bool
	jobFraction float64
	jobErr      error

	keys        int
	lastLatency time.Duration
	worstWait   time.Duration
	lastHandle  afteryou.TaskHandle
	log         []string
	stats       core.SchedulerStats
	width       int
}

func newTUIModel(rt *afteryou.Runtime, job time.Duration) *tuiModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF"))
	return &tuiModel{
		rt:       rt,
		send:     func(tea.Msg) {},
		job:      job,
		spinner:  s,
		progress: progress.New(progress.WithDefaultGradient()),
	}
}

func (m *tuiModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, statsTick())
}

func statsTick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg { return statsTickMsg(t) })
}

func (m *tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m, m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = max(20, msg.Width-10)
		return m, nil

	case jobProgressMsg:
		m.jobFraction = float64(msg)
		return m, m.progress.SetPercent(m.jobFraction)

	case jobDoneMsg:
		m.jobRunning = false
		m.jobErr = msg.err
		m.addLog(fmt.Sprintf("background job finished (err=%v)", msg.err))
		return m, m.progress.SetPercent(1)

	case inputMsg:
		m.lastLatency = msg.latency
		m.worstWait = max(m.worstWait, msg.latency)
		return m, nil

	case taskRanMsg:
		m.addLog(fmt.Sprintf("%s task %q ran", msg.priority, msg.name))
		return m, nil

	case workerMsg:
		if msg.err != nil {
			m.addLog(fmt.Sprintf("worker failed: %v", msg.err))
		} else {
			m.addLog(fmt.Sprintf("worker result: %d", msg.result))
		}
		return m, nil

	case statsTickMsg:
		m.stats = m.rt.Scheduler().Stats()
		return m, statsTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		model, cmd := m.progress.Update(msg)
		if pm, ok := model.(progress.Model); ok {
			m.progress = pm
		}
		return m, cmd
	}
	return m, nil
}

func (m *tuiModel) handleKey(msg tea.KeyMsg) tea.Cmd {
	// Every keystroke is host input; its latency shows how long it waited
	// behind scheduler work.
	m.keys++
	pressed := time.Now()
	send := m.send
	m.rt.Loop().DispatchInput(func() {
		send(inputMsg{latency: time.Since(pressed)})
	})

	switch msg.String() {
	case "q", "ctrl+c":
		return tea.Quit
	case "j":
		m.startJob()
	case "h":
		m.enqueue("keypress", afteryou.PriorityHigh)
	case "n":
		m.enqueue("keypress", afteryou.PriorityNormal)
	case "l":
		m.enqueue("keypress", afteryou.PriorityLow)
	case "c":
		if !m.lastHandle.IsZero() {
			m.rt.CancelTask(m.lastHandle)
			m.addLog(fmt.Sprintf("cancelled #%s", m.lastHandle))
		}
	case "w":
		m.offload()
	}
	return nil
}

func (m *tuiModel) enqueue(name string, p afteryou.Priority) {
	send := m.send
	m.lastHandle = m.rt.Scheduler().AddNamedTask(name, afteryou.Sync(func(ctx context.Context) {
		spin(2 * time.Millisecond)
		send(taskRanMsg{name: name, priority: p})
	}), p)
	m.addLog(fmt.Sprintf("queued #%s at %s", m.lastHandle, p))
}

// startJob enqueues one long idle-priority task that never splits itself
// and relies on AfterYou to let input through.
func (m *tuiModel) startJob() {
	if m.jobRunning {
		return
	}
	m.jobRunning = true
	m.jobFraction = 0
	send, total := m.send, m.job

	m.rt.Scheduler().AddNamedTask("background-job", func(ctx context.Context) core.Result {
		start := time.Now()
		lastReport := start
		for elapsed := time.Duration(0); elapsed < total; elapsed = time.Since(start) {
			spin(100 * time.Microsecond)
			if time.Since(lastReport) > 50*time.Millisecond {
				send(jobProgressMsg(float64(elapsed) / float64(total)))
				lastReport = time.Now()
			}
			if err := m.rt.AfterYou(ctx); err != nil {
				send(jobDoneMsg{err: err})
				return core.Immediate(err)
			}
		}
		send(jobDoneMsg{})
		return core.Immediate(nil)
	}, afteryou.PriorityIdle)
	m.addLog("background job started")
}

func (m *tuiModel) offload() {
	send := m.send
	afteryou.RunInWorkerAndReply(context.Background(), m.rt,
		`func(n int) int { a, b := 0, 1; for i := 0; i < n; i++ { a, b = b, a+b }; return a }`,
		[]any{40}, worker.RunOptions{Timeout: 5 * time.Second},
		func(ctx context.Context, fib int, err error) afteryou.Result {
			send(workerMsg{result: fib, err: err})
			return afteryou.Immediate(nil)
		}, afteryou.PriorityHigh)
	m.addLog("offloaded fib(40) to a worker")
}

func (m *tuiModel) addLog(line string) {
	m.log = append(m.log, time.Now().Format("15:04:05.000 ")+line)
	if len(m.log) > 8 {
		m.log = m.log[len(m.log)-8:]
	}
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")).MarginBottom(1)
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
	hintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")).MarginTop(1)
)

func (m *tuiModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("AFTER YOU"))
	b.WriteString("\n")

	caps := m.rt.Capabilities()
	fmt.Fprintf(&b, "%s %s  %s %s\n",
		labelStyle.Render("host:"), caps,
		labelStyle.Render("strategy:"), core.SelectStrategy(caps))

	status := "idle"
	if m.jobRunning {
		status = m.spinner.View() + " running"
	}
	fmt.Fprintf(&b, "%s %s\n%s\n", labelStyle.Render("background job:"), status, m.progress.View())

	fmt.Fprintf(&b, "%s %d  %s %v  %s %v\n",
		labelStyle.Render("keys:"), m.keys,
		labelStyle.Render("last input wait:"), m.lastLatency.Round(time.Microsecond),
		labelStyle.Render("worst:"), m.worstWait.Round(time.Microsecond))

	st := m.stats
	fmt.Fprintf(&b, "%s %s  %s H%d N%d L%d I%d  %s %d  %s %d\n",
		labelStyle.Render("scheduler:"), st.State,
		labelStyle.Render("pending:"),
		st.Pending[afteryou.PriorityHigh], st.Pending[afteryou.PriorityNormal],
		st.Pending[afteryou.PriorityLow], st.Pending[afteryou.PriorityIdle],
		labelStyle.Render("executed:"), st.Executed,
		labelStyle.Render("yields:"), st.Yields)

	b.WriteString(boxStyle.Render(strings.Join(append([]string{"events"}, m.log...), "\n")))
	b.WriteString("\n")
	b.WriteString(hintStyle.Render("j job · h/n/l enqueue high/normal/low · c cancel last · w worker · q quit"))
	return b.String()
}
