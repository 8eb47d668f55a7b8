// cmd/dbview/model.go
package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	tableBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))
)

type tickMsg time.Time

type viewModel struct {
	region   string
	names    []string
	interval time.Duration
	rd       *reader

	table   table.Model
	err     error
	updated time.Time
	paused  bool
}

func newViewModel(region string, rd *reader, names []string, interval time.Duration) *viewModel {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Field", Width: 28},
			{Title: "Value", Width: 24},
		}),
		table.WithFocused(true),
		table.WithHeight(20),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("#FAFAFA")).
		Background(lipgloss.Color("#7D56F4"))
	t.SetStyles(s)

	return &viewModel{
		region:   region,
		names:    names,
		interval: interval,
		rd:       rd,
		table:    t,
	}
}

func (m *viewModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *viewModel) Init() tea.Cmd {
	m.refresh(time.Now())
	return m.tick()
}

func (m *viewModel) refresh(now time.Time) {
	p, err := m.rd.read()
	if err != nil {
		m.err = err
		return
	}
	m.err = nil
	m.updated = now

	rs := rows(p, m.names)
	out := make([]table.Row, 0, len(rs))
	for _, r := range rs {
		out = append(out, table.Row{r[0], r[1]})
	}
	m.table.SetRows(out)
}

func (m *viewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case " ", "space":
			m.paused = !m.paused
			return m, nil
		}

	case tea.WindowSizeMsg:
		if h := msg.Height - 6; h > 3 {
			m.table.SetHeight(h)
		}
		return m, nil

	case tickMsg:
		if !m.paused {
			m.refresh(time.Time(msg))
		}
		return m, m.tick()
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *viewModel) View() string {
	head := titleStyle.Render("dbview " + m.region)

	var line string
	switch {
	case m.err != nil:
		line = errorStyle.Render(m.err.Error())
	case m.paused:
		line = helpStyle.Render("paused")
	default:
		line = helpStyle.Render(fmt.Sprintf("updated %s  torn reads %d", m.updated.Format("15:04:05.000"), m.rd.torn))
	}

	help := helpStyle.Render("↑/↓ scroll • space pause • q quit")
	return head + "\n" + tableBorder.Render(m.table.View()) + "\n" + line + "\n" + help + "\n"
}
