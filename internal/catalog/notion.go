package catalog

import (
	"context"
	"strconv"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/clinical-abstraction/internal/model"
	"github.com/sells-group/clinical-abstraction/pkg/notion"
)

// LoadNotion queries a Notion rule database for all active rule pages and
// builds a validated catalog from them.
func LoadNotion(ctx context.Context, client notion.Client, dbID string) (*Catalog, error) {
	pages, err := notion.ActiveRules(ctx, client, dbID)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: load notion rules")
	}

	defs := make([]RuleDefinition, 0, len(pages))
	for _, p := range pages {
		d, err := parseRulePage(p)
		if err != nil {
			// Malformed rule pages fail the whole load; a partial catalog is never built.
			return nil, eris.Wrapf(err, "catalog: rule page %s", p.ID)
		}
		defs = append(defs, d)
	}

	c, err := New(defs)
	if err != nil {
		return nil, err
	}

	zap.L().Info("catalog: loaded rules from notion",
		zap.String("database", dbID),
		zap.Int("definitions", len(defs)),
		zap.Int("bound_rules", c.Len()),
	)
	return c, nil
}

func parseRulePage(p notionapi.Page) (RuleDefinition, error) {
	var d RuleDefinition

	// ID (title)
	if prop, ok := p.Properties["ID"]; ok {
		if tp, ok := prop.(*notionapi.TitleProperty); ok {
			d.ID = strings.TrimSpace(plainText(tp.Title))
		}
	}
	if d.ID == "" {
		return d, eris.New("missing ID property")
	}

	if prop, ok := p.Properties["Fields"]; ok {
		if mp, ok := prop.(*notionapi.MultiSelectProperty); ok {
			d.Fields = optionNames(mp.MultiSelect)
		}
	}

	if prop, ok := p.Properties["Group"]; ok {
		if sp, ok := prop.(*notionapi.SelectProperty); ok {
			d.Group = sp.Select.Name
		}
	}

	if prop, ok := p.Properties["Description"]; ok {
		if rtp, ok := prop.(*notionapi.RichTextProperty); ok {
			d.Description = plainText(rtp.RichText)
		}
	}

	if prop, ok := p.Properties["DocumentTypes"]; ok {
		if mp, ok := prop.(*notionapi.MultiSelectProperty); ok {
			d.AllowedDocumentTypes = optionNames(mp.MultiSelect)
		}
	}

	if prop, ok := p.Properties["Roles"]; ok {
		if mp, ok := prop.(*notionapi.MultiSelectProperty); ok {
			d.AllowedRoles = optionNames(mp.MultiSelect)
		}
	}

	// Window (rich_text, "start..end" in months)
	if prop, ok := p.Properties["Window"]; ok {
		if rtp, ok := prop.(*notionapi.RichTextProperty); ok {
			if raw := strings.TrimSpace(plainText(rtp.RichText)); raw != "" {
				w, err := parseWindow(raw)
				if err != nil {
					return d, err
				}
				d.Window = w
			}
		}
	}

	if prop, ok := p.Properties["Corroboration"]; ok {
		if sp, ok := prop.(*notionapi.SelectProperty); ok && sp.Select.Name != "" {
			d.Corroboration = &model.Corroboration{Mode: model.CorroborationMode(sp.Select.Name)}
		}
	}

	if prop, ok := p.Properties["RequiredTypes"]; ok {
		if mp, ok := prop.(*notionapi.MultiSelectProperty); ok && len(mp.MultiSelect) > 0 {
			if d.Corroboration == nil {
				d.Corroboration = &model.Corroboration{}
			}
			d.Corroboration.RequiredTypes = optionNames(mp.MultiSelect)
		}
	}

	if prop, ok := p.Properties["AlwaysReview"]; ok {
		if cp, ok := prop.(*notionapi.CheckboxProperty); ok {
			d.AlwaysReview = cp.Checkbox
		}
	}

	if prop, ok := p.Properties["MinConfidence"]; ok {
		if sp, ok := prop.(*notionapi.SelectProperty); ok {
			d.MinConfidence = sp.Select.Name
		}
	}

	if prop, ok := p.Properties[notion.PropPriority]; ok {
		if np, ok := prop.(*notionapi.NumberProperty); ok {
			d.Priority = int(np.Number)
		}
	}

	return d, nil
}

// parseWindow parses "start..end" month offsets, e.g. "3..6" or "-1..2".
func parseWindow(raw string) (*model.Window, error) {
	start, end, ok := strings.Cut(raw, "..")
	if !ok {
		return nil, eris.Errorf("window %q: want start..end", raw)
	}
	s, err := strconv.Atoi(strings.TrimSpace(start))
	if err != nil {
		return nil, eris.Wrapf(err, "window %q: start", raw)
	}
	e, err := strconv.Atoi(strings.TrimSpace(end))
	if err != nil {
		return nil, eris.Wrapf(err, "window %q: end", raw)
	}
	return &model.Window{StartMonths: s, EndMonths: e}, nil
}

func optionNames(opts []notionapi.Option) []string {
	out := make([]string, 0, len(opts))
	for _, o := range opts {
		out = append(out, o.Name)
	}
	return out
}

func plainText(rts []notionapi.RichText) string {
	var s string
	for _, rt := range rts {
		s += rt.PlainText
	}
	return s
}
