// SPDX-License-Identifier: MIT

// Package tui provides an interactive browser for capture devices.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"scope/internal/audio"
	"scope/internal/config"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#25A065")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E0A526"))
)

var (
	keyQuit   = key.NewBinding(key.WithKeys("q", "ctrl+c"))
	keyUp     = key.NewBinding(key.WithKeys("up", "k"))
	keyDown   = key.NewBinding(key.WithKeys("down", "j"))
	keyEnter  = key.NewBinding(key.WithKeys("enter"))
	keyBack   = key.NewBinding(key.WithKeys("esc"))
	keySelect = key.NewBinding(key.WithKeys("s"))
)

// ScreenType defines which screen is currently active
type ScreenType int

const (
	ListScreen ScreenType = iota
	DetailScreen
)

// DeviceFetcher returns the devices to browse.
type DeviceFetcher func() ([]audio.Device, error)

// DeviceListModel is the Bubble Tea model for browsing input devices.
type DeviceListModel struct {
	fetch         DeviceFetcher
	devices       []audio.Device
	selectedIndex int
	viewport      viewport.Model
	ready         bool
	err           error
	activeScreen  ScreenType

	chosen    int
	hasChoice bool
}

type devicesMsg struct {
	devices []audio.Device
}

type errMsg struct {
	err error
}

// NewDeviceListModel creates a new device list model
func NewDeviceListModel(fetch DeviceFetcher) DeviceListModel {
	if fetch == nil {
		fetch = audio.InputDevices
	}
	return DeviceListModel{
		fetch:        fetch,
		activeScreen: ListScreen,
		chosen:       config.DefaultDeviceID,
	}
}

// Init fetches the device list.
func (m DeviceListModel) Init() tea.Cmd {
	fetch := m.fetch
	return func() tea.Msg {
		devices, err := fetch()
		if err != nil {
			return errMsg{err}
		}
		return devicesMsg{devices}
	}
}

// Chosen returns the device ID picked with the select key.
func (m DeviceListModel) Chosen() (int, bool) {
	return m.chosen, m.hasChoice
}

func (m DeviceListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.viewport.Style = lipgloss.NewStyle()
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}
		m.refresh()

	case devicesMsg:
		m.devices = msg.devices
		if m.selectedIndex >= len(m.devices) {
			m.selectedIndex = 0
		}
		m.refresh()

	case errMsg:
		m.err = msg.err

	case tea.KeyMsg:
		if key.Matches(msg, keyQuit) || m.err != nil {
			return m, tea.Quit
		}

		switch m.activeScreen {
		case ListScreen:
			switch {
			case key.Matches(msg, keyUp):
				if m.selectedIndex > 0 {
					m.selectedIndex--
				}
			case key.Matches(msg, keyDown):
				if m.selectedIndex < len(m.devices)-1 {
					m.selectedIndex++
				}
			case key.Matches(msg, keyEnter):
				if len(m.devices) > 0 {
					m.activeScreen = DetailScreen
				}
			}
		case DetailScreen:
			switch {
			case key.Matches(msg, keyBack):
				m.activeScreen = ListScreen
			case key.Matches(msg, keySelect):
				if d := m.devices[m.selectedIndex]; supportsCapture(d) {
					m.chosen = d.ID
					m.hasChoice = true
					return m, tea.Quit
				}
			}
		}
		m.refresh()
		// Navigation keys are consumed here rather than scrolling the viewport.
		return m, nil
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m *DeviceListModel) refresh() {
	if !m.ready {
		return
	}
	if m.activeScreen == DetailScreen && len(m.devices) > 0 {
		m.viewport.SetContent(m.renderDeviceDetail())
		return
	}
	m.viewport.SetContent(m.renderDevices())
}

// View renders the UI
func (m DeviceListModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Error: %v\n\nPress any key to exit.", m.err)
	}
	if !m.ready {
		return "Initializing..."
	}

	var title, help string
	if m.activeScreen == ListScreen {
		title = titleStyle.Render("Input Devices")
		help = infoStyle.Render("↑/↓: Navigate • Enter: Details • q: Quit")
	} else {
		title = titleStyle.Render("Device Details")
		help = infoStyle.Render("s: Use this device • Esc: Back • q: Quit")
	}

	return fmt.Sprintf("%s\n\n%s\n\n%s", title, m.viewport.View(), help)
}

func (m DeviceListModel) renderDevices() string {
	if len(m.devices) == 0 {
		return "No input devices found."
	}

	var sb strings.Builder
	for i, device := range m.devices {
		deviceInfo := fmt.Sprintf("[%d] %s (%s)\n", device.ID, device.Name, device.Kind())
		deviceInfo += fmt.Sprintf("    Input channels: %d, Default sample rate: %.0f Hz\n",
			device.MaxInputChannels, device.DefaultSampleRate)

		if i == m.selectedIndex {
			deviceInfo = highlightStyle.Render(deviceInfo)
		}
		sb.WriteString(deviceInfo)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m DeviceListModel) renderDeviceDetail() string {
	device := m.devices[m.selectedIndex]

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n\n", highlightStyle.Render(device.Name))
	fmt.Fprintf(&sb, "  ID:                  %d\n", device.ID)
	if device.HostAPI != "" {
		fmt.Fprintf(&sb, "  Host API:            %s\n", device.HostAPI)
	}
	fmt.Fprintf(&sb, "  Input channels:      %d\n", device.MaxInputChannels)
	fmt.Fprintf(&sb, "  Default sample rate: %.0f Hz\n", device.DefaultSampleRate)
	fmt.Fprintf(&sb, "  Input latency:       %v (low) / %v (high)\n", device.LowInputLatency, device.HighInputLatency)
	fmt.Fprintf(&sb, "  Block duration:      %.1f ms at %d samples\n",
		1000*float64(config.BlockSize)/config.SampleRate, config.BlockSize)
	sb.WriteString("\n")

	if supportsCapture(device) {
		fmt.Fprintf(&sb, "  Capture: mono 16-bit at %d Hz\n", config.SampleRate)
		fmt.Fprintf(&sb, "  Run with: scope --device %d\n", device.ID)
	} else {
		sb.WriteString(warnStyle.Render("  This device has no input channels."))
		sb.WriteString("\n")
	}
	return sb.String()
}

func supportsCapture(d audio.Device) bool {
	return d.MaxInputChannels > 0
}

// StartDeviceListUI launches the Bubble Tea TUI for browsing input devices.
// It returns the device picked by the user, if any.
func StartDeviceListUI(fetch DeviceFetcher) (int, bool, error) {
	p := tea.NewProgram(
		NewDeviceListModel(fetch),
		tea.WithAltScreen(),
	)
	final, err := p.Run()
	if err != nil {
		return config.DefaultDeviceID, false, err
	}
	id, ok := final.(DeviceListModel).Chosen()
	return id, ok, nil
}
