package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Alias1177/HotDigits/models"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Style selects the output dialect
type Style int

const (
	Plain    Style = iota // terminal output
	Markdown              // Telegram legacy Markdown, free text escaped
)

// Text formats an analysis. Scores use a fixed precision so equal analyses
// produce byte-identical output.
func Text(a *models.Analysis, style Style) string {
	var sb strings.Builder

	bold := func(s string) string {
		if style == Markdown {
			return "*" + s + "*"
		}
		return s
	}
	code := func(s string) string {
		if style == Markdown {
			return "`" + s + "`"
		}
		return s
	}
	// free text; entities cannot contain escapes, so it stays outside bold and code
	text := func(s string) string {
		if style == Markdown {
			return tgbotapi.EscapeText(tgbotapi.ModeMarkdown, s)
		}
		return s
	}

	sb.WriteString(bold(fmt.Sprintf("Hot digits for %d draws of width %d", a.DrawCount, a.Width)))
	sb.WriteString("\n")
	if a.Truncated {
		sb.WriteString("Only the most recent draws were kept.\n")
	}

	for _, t := range a.Tiers {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s %s (window %d)\n", bold("Tier"), text(t.Name), t.Window))

		if !t.Sufficient {
			sb.WriteString(text(t.Message))
			sb.WriteString("\n")
			continue
		}

		sb.WriteString(fmt.Sprintf("Alpha: %.2f (%s", t.Alpha, t.AlphaSource))
		if t.Backtest != nil && t.Backtest.Positions > 0 {
			sb.WriteString(fmt.Sprintf(", hit rate %.1f%% over %d draws", t.Backtest.HitRate()*100, t.Backtest.Positions))
		}
		sb.WriteString(")\n")

		sb.WriteString(fmt.Sprintf("Hot digit: %s\n", code(t.HotDigit)))
		writeTokens(&sb, "Digits", t.Digits, code)
		writeTokens(&sb, "Pairs", t.Pairs, code)
		writeTokens(&sb, "Triplets", t.Triplets, code)
	}

	if a.ML != nil {
		sb.WriteString("\n")
		sb.WriteString(bold("Classifier"))
		sb.WriteString("\n")
		if a.ML.Sufficient {
			sb.WriteString(fmt.Sprintf("Next ends with %s (p=%.4f, %d examples, seed %d)\n",
				code(a.ML.Token), a.ML.Probability, a.ML.Examples, a.ML.Seed))
		} else {
			sb.WriteString(text(a.ML.Message))
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

func writeTokens(sb *strings.Builder, label string, tokens []models.ScoredToken, code func(string) string) {
	if len(tokens) == 0 {
		sb.WriteString(fmt.Sprintf("%s: none\n", label))
		return
	}
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = fmt.Sprintf("%s %.4f", code(t.Token), t.Score)
	}
	sb.WriteString(fmt.Sprintf("%s: %s\n", label, strings.Join(parts, ", ")))
}

// JSON encodes an analysis with stable indentation
func JSON(a *models.Analysis) ([]byte, error) {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding analysis: %w", err)
	}
	return append(data, '\n'), nil
}
