// Package ui renders engine entities for terminal output.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/trellishq/trellis/internal/models"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	hashStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	branchStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	faintStyle  = lipgloss.NewStyle().Faint(true)
	addStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	delStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
)

// RenderBranch formats one branch line for listings.
func RenderBranch(b *models.Branch) string {
	marker := " "
	if b.IsDefault {
		marker = "*"
	}
	line := fmt.Sprintf("%s %s", marker, branchStyle.Render(b.Name))
	details := []string{string(b.Type), string(b.Status)}
	if b.IsProtected {
		details = append(details, "protected")
	}
	return line + " " + faintStyle.Render("("+strings.Join(details, ", ")+")")
}

// RenderCommit formats one commit for log output.
func RenderCommit(c *models.Commit) string {
	var sb strings.Builder
	sb.WriteString(hashStyle.Render(shorten(c.Hash)))
	sb.WriteString(" ")
	sb.WriteString(titleStyle.Render(c.Message))
	sb.WriteString("\n")
	sb.WriteString(faintStyle.Render(fmt.Sprintf("  %s at %s",
		c.Author, c.CreatedAt.Format("2006-01-02 15:04:05"))))
	if !c.Delta.Empty() {
		sb.WriteString("\n  ")
		sb.WriteString(RenderDeltaSummary(len(c.Delta.Added), len(c.Delta.Modified), len(c.Delta.Deleted)))
	}
	return sb.String()
}

// RenderDeltaSummary formats added/modified/deleted counts.
func RenderDeltaSummary(added, modified, deleted int) string {
	parts := []string{
		addStyle.Render(fmt.Sprintf("+%d", added)),
		fmt.Sprintf("~%d", modified),
		delStyle.Render(fmt.Sprintf("-%d", deleted)),
	}
	return strings.Join(parts, " ")
}

// RenderConflict formats one conflict for resolution listings.
func RenderConflict(c *models.Conflict) string {
	status := string(c.Resolution)
	if c.Resolution == models.ResolutionPending {
		status = warnStyle.Render(status)
	} else {
		status = addStyle.Render(status)
	}
	return fmt.Sprintf("%s  node %s  %s.%s  source=%v target=%v  [%s]",
		faintStyle.Render(shorten(c.ID)),
		c.NodeID, c.Kind, c.PropertyPath,
		c.SourceValue[c.PropertyPath], c.TargetValue[c.PropertyPath],
		status)
}

// RenderComparison formats a comparison summary.
func RenderComparison(cmp *models.Comparison) string {
	var sb strings.Builder
	sb.WriteString(RenderDeltaSummary(cmp.AddedCount, cmp.ModifiedCount, cmp.DeletedCount))
	if len(cmp.ConflictNodeIDs) > 0 {
		sb.WriteString("  ")
		sb.WriteString(warnStyle.Render(fmt.Sprintf("%d potential conflicts", len(cmp.ConflictNodeIDs))))
	}
	for _, id := range cmp.AddedNodeIDs {
		sb.WriteString("\n  " + addStyle.Render("+ "+id))
	}
	for _, id := range cmp.ModifiedNodeIDs {
		sb.WriteString("\n  ~ " + id)
	}
	for _, id := range cmp.DeletedNodeIDs {
		sb.WriteString("\n  " + delStyle.Render("- "+id))
	}
	return sb.String()
}

func shorten(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:12]
}
