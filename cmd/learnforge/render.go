package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/RashikaKarki/learnforge-cli/internal/domain"
)

func printProfile(p *domain.UserProfile) {
	fmt.Println(color.CyanString("PROFILE"))
	fmt.Println()
	fmt.Printf("  Name:   %s\n", p.DisplayName())
	fmt.Printf("  Email:  %s\n", p.Email)
	fmt.Printf("  UID:    %s\n", p.UID)
	if p.LearningStyle != "" {
		fmt.Printf("  Style:  %s\n", p.LearningStyle)
	}
	if !p.CreatedAt.IsZero() {
		fmt.Printf("  Joined: %s\n", p.CreatedAt.Format("2006-01-02"))
	}
}

func printMissions(missions []domain.EnrolledMission, cached bool) {
	header := fmt.Sprintf("ENROLLED MISSIONS: %d", len(missions))
	if cached {
		header += " (cached)"
	}
	fmt.Println(color.CyanString(header))
	fmt.Println()

	if len(missions) == 0 {
		fmt.Println("  No enrolled missions yet.")
		return
	}
	for i, m := range missions {
		mark := "○"
		if m.IsComplete() {
			mark = color.GreenString("✓")
		}
		fmt.Printf("  %s %d. %s\n", mark, i+1, m.Title)
		fmt.Printf("       %s · %s\n", m.MissionID, formatProgress(m.Progress))
	}
}

func printMission(m *domain.Mission, state *domain.CheckpointProgress, cached bool) {
	header := m.Title
	if cached {
		header += " (cached)"
	}
	fmt.Println(color.CyanString(header))
	fmt.Println(strings.Repeat("-", 40))

	if m.Description != "" {
		fmt.Println(m.Description)
		fmt.Println()
	}
	if len(m.Skills) > 0 {
		fmt.Printf("Skills: %s\n", strings.Join(m.Skills, ", "))
		fmt.Println()
	}

	var completed []string
	if state != nil {
		completed = state.Completed
	}
	next := m.NextCheckpoint(completed)

	checkpoints := append([]domain.Checkpoint(nil), m.Checkpoints...)
	sort.Slice(checkpoints, func(i, j int) bool { return checkpoints[i].Order < checkpoints[j].Order })

	fmt.Printf("CHECKPOINTS: %d\n", len(checkpoints))
	for _, cp := range checkpoints {
		icon := "○"
		switch {
		case state != nil && state.Contains(cp.ID):
			icon = color.GreenString("✓")
		case next != nil && cp.ID == next.ID:
			icon = color.YellowString("▶")
		}
		fmt.Printf("  %s %d. %s\n", icon, cp.Order, cp.Title)
		if cp.Description != "" {
			fmt.Printf("       %s\n", cp.Description)
		}
	}

	if state != nil {
		fmt.Println()
		fmt.Printf("Progress: %s\n", formatProgress(state.Progress))
	}
}

func formatProgress(progress float64) string {
	text := fmt.Sprintf("%.0f%%", progress)
	switch {
	case progress >= 100:
		return color.GreenString(text)
	case progress > 0:
		return color.YellowString(text)
	default:
		return text
	}
}
