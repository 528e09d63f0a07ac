package services

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"listing-watcher/models"
)

// DefaultBudget is the default per-message byte budget.
const DefaultBudget = 2000

const (
	blockSeparator   = "\n\n"
	sectionSeparator = "=============================="
	currency         = "₪"
)

// Chunk is one message worth of blocks. Header is only set on the first
// chunk of a sequence.
type Chunk struct {
	Header string
	Blocks []string
}

// Text serializes the chunk.
func (c Chunk) Text() string {
	parts := c.Blocks
	if c.Header != "" {
		parts = append([]string{c.Header}, c.Blocks...)
	}
	return strings.Join(parts, blockSeparator)
}

// ChunkBlocks packs blocks into chunks of at most budget bytes using a
// single open bin: a block joins the current chunk if it fits, otherwise it
// opens the next one. Blocks are never split or reordered, so a block
// larger than the budget gets a chunk of its own.
func ChunkBlocks(header string, blocks []string, budget int) []Chunk {
	current := Chunk{Header: header}
	size := len(header)
	var chunks []Chunk

	for _, b := range blocks {
		empty := current.Header == "" && len(current.Blocks) == 0
		need := len(b)
		if !empty {
			need += len(blockSeparator)
		}
		if !empty && size+need > budget {
			chunks = append(chunks, current)
			current = Chunk{}
			size, need = 0, len(b)
		}
		current.Blocks = append(current.Blocks, b)
		size += need
	}

	if current.Header != "" || len(current.Blocks) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

// Composer renders listings into message text.
type Composer struct {
	budget  int
	loc     *time.Location
	printer *message.Printer
}

// NewComposer returns a Composer with the given byte budget (DefaultBudget
// when budget <= 0). loc is used for rendered dates.
func NewComposer(budget int, loc *time.Location) *Composer {
	if budget <= 0 {
		budget = DefaultBudget
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Composer{budget: budget, loc: loc, printer: message.NewPrinter(language.English)}
}

// Pack chunks blocks and, when more than one message results, prefixes
// every message with "(i/n)". The prefix is reserved inside the budget.
func (c *Composer) Pack(header string, blocks []string) []string {
	chunks := ChunkBlocks(header, blocks, c.budget)
	if len(chunks) > 1 {
		for reserve := 0; ; {
			need := len(partPrefix(len(chunks), len(chunks)))
			if need <= reserve {
				break
			}
			reserve = need
			chunks = ChunkBlocks(header, blocks, c.budget-reserve)
		}
	}

	out := make([]string, len(chunks))
	for i, ch := range chunks {
		text := ch.Text()
		if len(chunks) > 1 {
			text = partPrefix(i+1, len(chunks)) + text
		}
		out[i] = text
	}
	return out
}

func partPrefix(i, n int) string {
	return fmt.Sprintf("(%d/%d)\n", i, n)
}

// ChangeMessages renders a change set. Sections come in the order new,
// price changed, updated, removed; empty ones are left out. An empty change
// set yields nil.
func (c *Composer) ChangeMessages(cs models.ChangeSet) []string {
	if cs.Empty() {
		return nil
	}

	var blocks []string
	section := func(title string, count int) {
		heading := fmt.Sprintf("%s (%d):", title, count)
		if len(blocks) > 0 {
			heading = sectionSeparator + "\n" + heading
		}
		blocks = append(blocks, heading)
	}

	if len(cs.New) > 0 {
		section("🆕 New Listings", len(cs.New))
		for _, l := range cs.New {
			blocks = append(blocks, c.ListingBlock(l, nil))
		}
	}
	if len(cs.PriceChanged) > 0 {
		section("💸 Price Changes", len(cs.PriceChanged))
		for _, ch := range cs.PriceChanged {
			blocks = append(blocks, c.PriceChangeBlock(ch))
		}
	}
	if len(cs.Updated) > 0 {
		section("✏️ Updated Listings", len(cs.Updated))
		for _, ch := range cs.Updated {
			blocks = append(blocks, c.ListingBlock(ch.Current, nil))
		}
	}
	if len(cs.Removed) > 0 {
		section("❌ Removed Listings", len(cs.Removed))
		for _, l := range cs.Removed {
			blocks = append(blocks, c.RemovedBlock(l))
		}
	}

	header := fmt.Sprintf("🔔 Listing updates: %d new, %d price changes, %d updated, %d removed",
		len(cs.New), len(cs.PriceChanged), len(cs.Updated), len(cs.Removed))
	return c.Pack(header, blocks)
}

// DigestMessages renders every tracked listing, most recently seen first.
// summary, if set, is appended to the header.
func (c *Composer) DigestMessages(records map[string]models.TrackedRecord, now time.Time, summary string) []string {
	sorted := make([]models.TrackedRecord, 0, len(records))
	for _, rec := range records {
		sorted = append(sorted, rec)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].FirstSeen.Equal(sorted[j].FirstSeen) {
			return sorted[i].FirstSeen.After(sorted[j].FirstSeen)
		}
		return sorted[i].Listing.ID < sorted[j].Listing.ID
	})

	blocks := make([]string, 0, len(sorted))
	for _, rec := range sorted {
		var firstSeen *time.Time
		if rec.Listing.Details.DateAdded == "" {
			fs := rec.FirstSeen
			firstSeen = &fs
		}
		blocks = append(blocks, c.ListingBlock(rec.Listing, firstSeen))
	}

	header := fmt.Sprintf("📋 Listing digest for %s: %d tracked listings",
		now.In(c.loc).Format("02/01/2006"), len(records))
	if summary != "" {
		header += "\n" + summary
	}
	return c.Pack(header, blocks)
}

// NoChangesMessage is sent when a run found nothing to report.
func (c *Composer) NoChangesMessage(tracked int, sourceEmpty bool) string {
	if sourceEmpty {
		return fmt.Sprintf("✅ No changes in listings (source returned no results, still tracking %d)", tracked)
	}
	return fmt.Sprintf("✅ No changes in listings (tracking %d)", tracked)
}

// ErrorMessage is sent, best effort, when a run fails.
func (c *Composer) ErrorMessage(err error) string {
	text := fmt.Sprintf("🚨 Listing watcher run failed: %v", err)
	if len(text) > c.budget {
		text = truncate(text, c.budget)
	}
	return text
}

// ListingBlock renders the fixed block layout. firstSeen, when set, adds a
// "first seen" line; otherwise a native date_added is shown if present.
func (c *Composer) ListingBlock(l models.Listing, firstSeen *time.Time) string {
	lines := []string{
		c.titleLine(l),
		"💰 Price: " + c.price(l.Price),
		c.addressLine(l),
		c.sizeLine(l),
		"🔗 " + l.Link,
	}
	if l.IsAgency() && l.Agency != "" {
		lines = append(lines, "🏢 "+l.Agency)
	}
	lines = append(lines, tagLines(l)...)

	switch {
	case l.Details.DateAdded != "":
		lines = append(lines, "🗓 Added: "+l.Details.DateAdded)
	case firstSeen != nil:
		lines = append(lines, "🗓 First seen: "+firstSeen.In(c.loc).Format("02/01/2006 15:04"))
	}
	return strings.Join(lines, "\n")
}

// PriceChangeBlock renders a listing whose price moved, with the old price,
// the new price and the signed delta.
func (c *Composer) PriceChangeBlock(ch models.Change) string {
	l := ch.Current
	delta := ch.PriceDelta()
	indicator := "📈"
	if delta < 0 {
		indicator = "📉"
	}

	lines := []string{
		c.titleLine(l),
		fmt.Sprintf("%s Price: %s → %s (%s)", indicator, c.price(ch.Previous.Price), c.price(l.Price), c.signedAmount(delta)),
		c.addressLine(l),
		c.sizeLine(l),
		"🔗 " + l.Link,
	}
	if l.IsAgency() && l.Agency != "" {
		lines = append(lines, "🏢 "+l.Agency)
	}
	lines = append(lines, tagLines(l)...)
	return strings.Join(lines, "\n")
}

// RemovedBlock renders a listing that disappeared from the source. Size and
// agency lines are left out.
func (c *Composer) RemovedBlock(l models.Listing) string {
	lines := []string{
		"❌ REMOVED",
		c.titleLine(l),
		"💰 Price: " + c.price(l.Price),
		c.addressLine(l),
		"🔗 " + l.Link,
	}
	lines = append(lines, tagLines(l)...)
	return strings.Join(lines, "\n")
}

func (c *Composer) titleLine(l models.Listing) string {
	title := strings.TrimSpace(l.Title)
	if title == "" {
		title = "New Listing"
	}
	return "🏠 " + title
}

func (c *Composer) addressLine(l models.Listing) string {
	a := l.Address
	street := strings.TrimSpace(strings.TrimSpace(a.Street) + " " + strings.TrimSpace(a.Number))
	return fmt.Sprintf("📍 %s, %s", street, strings.TrimSpace(a.Neighborhood))
}

func (c *Composer) sizeLine(l models.Listing) string {
	rooms := "N/A"
	if l.Details.Rooms > 0 {
		rooms = strconv.FormatFloat(l.Details.Rooms, 'f', -1, 64)
	}
	area := "N/A"
	if l.Details.SquareMeters > 0 {
		area = strconv.Itoa(l.Details.SquareMeters)
	}
	return fmt.Sprintf("🛋 %s rooms, %sm²", rooms, area)
}

func (c *Composer) price(p *int) string {
	if p == nil {
		return "N/A"
	}
	return currency + c.printer.Sprintf("%d", *p)
}

func (c *Composer) signedAmount(delta int) string {
	switch {
	case delta > 0:
		return "+" + currency + c.printer.Sprintf("%d", delta)
	case delta < 0:
		return "-" + currency + c.printer.Sprintf("%d", -delta)
	}
	return currency + "0"
}

func tagLines(l models.Listing) []string {
	if len(l.Tags) == 0 {
		return nil
	}
	return []string{"🏷 " + strings.Join(l.Tags, ", ")}
}

// truncate cuts s to at most max bytes without splitting a UTF-8 sequence.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	const ellipsis = "..."
	if max < len(ellipsis) {
		return s[:runeBoundary(s, max)]
	}
	return s[:runeBoundary(s, max-len(ellipsis))] + ellipsis
}

// runeBoundary moves cut back to the start of the rune it falls in.
func runeBoundary(s string, cut int) int {
	if cut < 0 {
		return 0
	}
	for cut > 0 && !utf8RuneStart(s[cut]) {
		cut--
	}
	return cut
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
