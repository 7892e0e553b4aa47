package book

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// Render writes a ladder table of all live levels to w: asks highest first,
// then bids highest first, captioned with the sequence id. The format is for
// humans; nothing parses it.
func (b *OrderBook) Render(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Side", "Price", "Size"})
	table.SetCaption(true, fmt.Sprintf("OrderBook @ %d", b.sequenceID))

	// asks print top-down so the spread sits in the middle of the table
	var asks []FloatLevel
	for level := range b.Asks() {
		asks = append(asks, level)
	}
	for i := len(asks) - 1; i >= 0; i-- {
		table.Append([]string{"ask", formatPrice(asks[i].Price), formatSize(asks[i].Size)})
	}

	for level := range b.Bids() {
		table.Append([]string{"bid", formatPrice(level.Price), formatSize(level.Size)})
	}

	table.Render()
}

func (b *OrderBook) String() string {
	var sb strings.Builder
	b.Render(&sb)
	return sb.String()
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

func formatSize(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}
