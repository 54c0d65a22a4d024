package cmd

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/heaplane/heaplane/pkg/protocol"
	runewidth "github.com/mattn/go-runewidth"
	termbox "github.com/nsf/termbox-go"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type topOptions struct {
	hideDisconnected bool
}

type tableColumn struct {
	header string
	width  int
	// If true, render this column.
	display bool
	// If true, set the width to the widest value in this column.
	flexible   bool
	rightAlign bool
	value      func(tableRow) string
}

type tableRow struct {
	service     string
	status      string
	heapUsedMB  float64
	heapTotalMB float64
	rssMB       float64
	externalMB  float64
	loopDelayMs float64
	growthMB    float64
	samples     int
	alerts      int
	leaking     bool
}

type column int

const (
	serviceColumn column = iota
	statusColumn
	heapUsedColumn
	heapTotalColumn
	rssColumn
	externalColumn
	loopDelayColumn
	growthColumn
	samplesColumn
	alertsColumn

	columnCount
)

type topTable struct {
	columns          [columnCount]tableColumn
	rows             []tableRow
	hideDisconnected bool
}

func newTopTable() *topTable {
	table := topTable{}

	table.columns[serviceColumn] =
		tableColumn{
			header:   "Service",
			width:    23,
			display:  true,
			flexible: true,
			value: func(r tableRow) string {
				return r.service
			},
		}

	table.columns[statusColumn] =
		tableColumn{
			header:  "Status",
			width:   12,
			display: true,
			value: func(r tableRow) string {
				return r.status
			},
		}

	table.columns[heapUsedColumn] =
		tableColumn{
			header:     "Heap Used",
			width:      9,
			display:    true,
			rightAlign: true,
			value: func(r tableRow) string {
				return formatMB(r.heapUsedMB)
			},
		}

	table.columns[heapTotalColumn] =
		tableColumn{
			header:     "Heap Total",
			width:      10,
			display:    true,
			rightAlign: true,
			value: func(r tableRow) string {
				return formatMB(r.heapTotalMB)
			},
		}

	table.columns[rssColumn] =
		tableColumn{
			header:     "RSS",
			width:      9,
			display:    true,
			rightAlign: true,
			value: func(r tableRow) string {
				return formatMB(r.rssMB)
			},
		}

	table.columns[externalColumn] =
		tableColumn{
			header:     "External",
			width:      8,
			display:    true,
			rightAlign: true,
			value: func(r tableRow) string {
				return formatMB(r.externalMB)
			},
		}

	table.columns[loopDelayColumn] =
		tableColumn{
			header:     "Loop",
			width:      7,
			display:    true,
			rightAlign: true,
			value: func(r tableRow) string {
				return fmt.Sprintf("%.1fms", r.loopDelayMs)
			},
		}

	table.columns[growthColumn] =
		tableColumn{
			header:     "Growth",
			width:      8,
			display:    true,
			rightAlign: true,
			value: func(r tableRow) string {
				if !r.leaking {
					return "-"
				}
				return fmt.Sprintf("+%.1fMB", r.growthMB)
			},
		}

	table.columns[samplesColumn] =
		tableColumn{
			header:     "Samples",
			width:      7,
			display:    true,
			rightAlign: true,
			value: func(r tableRow) string {
				return strconv.Itoa(r.samples)
			},
		}

	table.columns[alertsColumn] =
		tableColumn{
			header:     "Alerts",
			width:      6,
			display:    true,
			rightAlign: true,
			value: func(r tableRow) string {
				return strconv.Itoa(r.alerts)
			},
		}

	return &table
}

const (
	headerHeight  = 4
	columnSpacing = 2
	xOffset       = 5
)

func newCmdTop() *cobra.Command {
	options := &topOptions{}

	table := newTopTable()

	cmd := &cobra.Command{
		Use:   "top [flags]",
		Short: "Display a live view of service memory usage",
		Long: `Display a live view of service memory usage.

Subscribes to the hub's dashboard event stream and renders a continuously
updating table of every tracked service, sorted by heap usage.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			table.hideDisconnected = options.hideDisconnected
			return watchHub(table)
		},
	}

	cmd.PersistentFlags().BoolVar(&options.hideDisconnected, "hide-disconnected", options.hideDisconnected, "Hide services that are no longer connected")

	return cmd
}

func watchHub(table *topTable) error {
	conn, _, err := websocket.DefaultDialer.Dial(wsURL("/dashboard"), nil)
	if err != nil {
		return fmt.Errorf("cannot subscribe to the hub at %s: %s", apiAddr, err)
	}
	defer conn.Close()

	err = termbox.Init()
	if err != nil {
		return err
	}
	defer termbox.Close()

	// for event processing:
	// conn ->
	//   recvEvents() ->
	//     eventCh ->
	//       renderTable()
	eventCh := make(chan protocol.Event, 100)

	// for closing:
	// recvEvents() || pollInput() ->
	//   closing ->
	//     done ->
	//       renderTable()
	closing := make(chan struct{}, 1)
	done := make(chan struct{})
	horizontalScroll := make(chan int)

	go pollInput(done, horizontalScroll)
	go recvEvents(conn, eventCh, closing)

	go func() {
		<-closing
	}()

	renderTable(table, eventCh, done, horizontalScroll)

	return nil
}

func recvEvents(conn *websocket.Conn, eventCh chan<- protocol.Event, closing chan<- struct{}) {
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			fmt.Println("Event stream terminated")
			closing <- struct{}{}
			return
		}

		event, err := protocol.DecodeEvent(frame)
		if err != nil {
			log.Warnf("Skipping unreadable event: %s", err)
			continue
		}
		if event == nil {
			continue
		}
		eventCh <- event
	}
}

func pollInput(done chan<- struct{}, horizontalScroll chan int) {
	for {
		switch ev := termbox.PollEvent(); ev.Type {
		case termbox.EventKey:
			if ev.Ch == 'q' || ev.Key == termbox.KeyCtrlC {
				close(done)
				return
			}
			if ev.Ch == 'a' || ev.Key == termbox.KeyArrowLeft {
				horizontalScroll <- xOffset
			}
			if ev.Ch == 'd' || ev.Key == termbox.KeyArrowRight {
				horizontalScroll <- -xOffset
			}
		}
	}
}

func renderTable(table *topTable, eventCh <-chan protocol.Event, done <-chan struct{}, horizontalScroll chan int) {
	scrollpos := 0
	ticker := time.NewTicker(100 * time.Millisecond)
	width, _ := termbox.Size()
	tablewidth := table.tableWidthCalc()

	for {
		select {
		case <-done:
			return
		case event := <-eventCh:
			table.apply(event)
		case <-ticker.C:
			termbox.Clear(termbox.ColorDefault, termbox.ColorDefault)
			width, _ = termbox.Size()
			table.adjustColumnWidths()
			tablewidth = table.tableWidthCalc()
			table.renderHeaders(scrollpos)
			table.renderBody(scrollpos)
			termbox.Flush()
		case offset := <-horizontalScroll:
			if (offset > 0 && scrollpos < 0) || (offset < 0 && scrollpos > (width-tablewidth)) {
				scrollpos = scrollpos + offset
			}
		}
	}
}

// apply folds one subscriber event into the table. Event kinds that do not
// affect per-service rows are ignored.
func (t *topTable) apply(event protocol.Event) {
	switch ev := event.(type) {
	case *protocol.InitialEvent:
		for _, svc := range ev.Services {
			row := t.row(svc.Name)
			row.status = svc.Status
			row.alerts = svc.TotalAlerts
			if m := svc.LastMetrics; m != nil {
				row.setMetrics(*m)
			}
		}

	case *protocol.ServiceRegisteredEvent:
		t.row(ev.Service).status = protocol.StatusConnected

	case *protocol.ServiceUpdateEvent:
		t.row(ev.Service).status = ev.Status

	case *protocol.MetricsUpdateEvent:
		row := t.row(ev.Service)
		row.status = protocol.StatusConnected
		row.setMetrics(ev.Metrics)
		row.samples++

	case *protocol.LeakAlertEvent:
		if ev.Alert.Service != "" {
			t.row(ev.Alert.Service).alerts++
		}
	}
}

func (r *tableRow) setMetrics(m protocol.Metrics) {
	r.heapUsedMB = m.HeapUsedMB
	r.heapTotalMB = m.HeapTotalMB
	r.rssMB = m.RSSMB
	r.externalMB = m.ExternalMB
	r.loopDelayMs = m.EventLoopDelayMs
	r.growthMB = m.MemoryGrowthMB
	r.leaking = m.LeakDetected
}

// row returns the row for a service, appending a fresh one on first sight.
func (t *topTable) row(service string) *tableRow {
	for i := range t.rows {
		if t.rows[i].service == service {
			return &t.rows[i]
		}
	}
	t.rows = append(t.rows, tableRow{service: service})
	return &t.rows[len(t.rows)-1]
}

func (t *topTable) visibleRows() []tableRow {
	if !t.hideDisconnected {
		return t.rows
	}
	visible := []tableRow{}
	for _, row := range t.rows {
		if row.status != protocol.StatusDisconnected {
			visible = append(visible, row)
		}
	}
	return visible
}

func (t *topTable) renderHeaders(scrollpos int) {
	tbprint(0, 0, "(press q to quit)")
	tbprint(0, 1, "(press a/LeftArrowKey to scroll left, d/RightArrowKey to scroll right)")
	x := scrollpos
	for _, col := range t.columns {
		if !col.display {
			continue
		}
		padding := 0
		if col.rightAlign {
			padding = col.width - runewidth.StringWidth(col.header)
		}
		tbprintBold(x+padding, headerHeight-1, col.header)
		x += col.width + columnSpacing
	}
}

func (t *topTable) tableWidthCalc() int {
	tablewidth := 0
	for i := range t.columns {
		tablewidth = tablewidth + t.columns[i].width + columnSpacing
	}
	return tablewidth - columnSpacing
}

func (t *topTable) adjustColumnWidths() {
	for i, col := range t.columns {
		if !col.flexible {
			continue
		}
		t.columns[i].width = runewidth.StringWidth(col.header)
		for _, row := range t.rows {
			cellWidth := runewidth.StringWidth(col.value(row))
			if cellWidth > t.columns[i].width {
				t.columns[i].width = cellWidth
			}
		}
	}
}

func (t *topTable) renderBody(scrollpos int) {
	rows := t.visibleRows()
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].heapUsedMB > rows[j].heapUsedMB
	})

	for i, row := range rows {
		x := scrollpos

		for _, col := range t.columns {
			if !col.display {
				continue
			}
			value := col.value(row)
			padding := 0
			if col.rightAlign {
				padding = col.width - runewidth.StringWidth(value)
			}
			tbprint(x+padding, i+headerHeight, value)
			x += col.width + columnSpacing
		}
	}
}

func tbprint(x, y int, msg string) {
	for _, c := range msg {
		termbox.SetCell(x, y, c, termbox.ColorDefault, termbox.ColorDefault)
		x += runewidth.RuneWidth(c)
	}
}

func tbprintBold(x, y int, msg string) {
	for _, c := range msg {
		termbox.SetCell(x, y, c, termbox.AttrBold, termbox.ColorDefault)
		x += runewidth.RuneWidth(c)
	}
}

func formatMB(v float64) string {
	if v >= 1024 {
		return fmt.Sprintf("%.1fGB", v/1024)
	}
	return fmt.Sprintf("%.1fMB", v)
}
