// Package catalog holds the static adventure catalog and the page layout
// derived from it.
package catalog

import (
	"fmt"
	"strings"

	"github.com/littlehero/api/internal/model"
)

// Adventure is one catalog entry. Each scene becomes one page of the book.
type Adventure struct {
	Type        model.AdventureType
	Name        string
	Description string
	Scenes      []string
}

// Page is the layout of a single page.
type Page struct {
	Number int
	Prompt string
}

// Catalog resolves adventure types.
type Catalog struct {
	entries map[model.AdventureType]Adventure
	order   []model.AdventureType
}

// New builds a catalog from entries, keeping their order for listing.
func New(entries ...Adventure) *Catalog {
	c := &Catalog{entries: make(map[model.AdventureType]Adventure, len(entries))}
	for _, e := range entries {
		if _, dup := c.entries[e.Type]; !dup {
			c.order = append(c.order, e.Type)
		}
		c.entries[e.Type] = e
	}
	return c
}

// Lookup returns the entry for an adventure type.
func (c *Catalog) Lookup(t model.AdventureType) (Adventure, bool) {
	a, ok := c.entries[t]
	return a, ok
}

// List returns the entries in catalog order.
func (c *Catalog) List() []Adventure {
	out := make([]Adventure, 0, len(c.order))
	for _, t := range c.order {
		out = append(out, c.entries[t])
	}
	return out
}

// Layout builds the page prompts for a child. Pages are numbered from 1.
func (a Adventure) Layout(childName string) []Page {
	name := strings.TrimSpace(childName)
	if name == "" {
		name = "the hero"
	}
	pages := make([]Page, 0, len(a.Scenes))
	for i, scene := range a.Scenes {
		pages = append(pages, Page{
			Number: i + 1,
			Prompt: fmt.Sprintf(
				"Children's picture book illustration, page %d of %d of a %s adventure. %s Keep the child's face from the reference photo recognisable. Warm, friendly, painterly style, no text.",
				i+1, len(a.Scenes), strings.ToLower(a.Name), strings.ReplaceAll(scene, "{child}", name),
			),
		})
	}
	return pages
}

// Default is the catalog shipped with the service.
func Default() *Catalog {
	return New(
		Adventure{
			Type:        model.AdventureFantasy,
			Name:        "Fantasy",
			Description: "Embark on a magical journey through enchanted lands with dragons, wizards, and mystical creatures.",
			Scenes: []string{
				"{child} finds a glowing map at the edge of an enchanted forest.",
				"{child} befriends a small, shy dragon beside a crystal lake.",
				"{child} and the dragon fly over a wizard's tower at sunset.",
				"{child} returns home as the stars spell out their name.",
			},
		},
		Adventure{
			Type:        model.AdventureSuperhero,
			Name:        "Superhero",
			Description: "Discover your child's inner superhero as they save the day with their amazing powers.",
			Scenes: []string{
				"{child} discovers a shining cape in the attic.",
				"{child} lifts a runaway bus to safety above the city.",
				"The whole city cheers for {child} from the rooftops.",
			},
		},
		Adventure{
			Type:        model.AdventureSpace,
			Name:        "Space",
			Description: "Blast off into space for an intergalactic adventure among the stars, planets, and alien worlds.",
			Scenes: []string{
				"{child} climbs into a shiny rocket on the launch pad.",
				"{child} floats past Saturn's rings waving at friendly aliens.",
				"{child} plants a flag on a candy-coloured moon.",
			},
		},
		Adventure{
			Type:        model.AdventureUnderwater,
			Name:        "Underwater",
			Description: "Dive deep beneath the waves to explore coral reefs, sunken ships, and meet fascinating sea creatures.",
			Scenes: []string{
				"{child} puts on a bubble helmet and dives into the sea.",
				"{child} swims through a coral reef with a school of bright fish.",
				"{child} discovers a sunken ship guarded by a gentle octopus.",
				"{child} rides a dolphin back to the sunny shore.",
			},
		},
		Adventure{
			Type:        model.AdventureFairyTale,
			Name:        "Fairy Tale",
			Description: "Experience classic fairy tale magic with princesses, knights, castles, and enchanted forests.",
			Scenes: []string{
				"{child} receives an invitation to the royal castle.",
				"{child} crosses an enchanted forest full of talking animals.",
				"{child} is crowned guardian of the kingdom at a grand feast.",
			},
		},
		Adventure{
			Type:        model.AdventureJungle,
			Name:        "Jungle",
			Description: "Venture into the wild jungle to discover exotic animals, ancient temples, and hidden treasures.",
			Scenes: []string{
				"{child} swings on a vine into the heart of the jungle.",
				"{child} meets a wise old tiger near a waterfall.",
				"{child} uncovers a hidden temple covered in vines.",
				"{child} finds the golden treasure and shares it with the animals.",
				"{child} waves goodbye to the jungle friends at dusk.",
			},
		},
	)
}
