package app

import (
	"fmt"
	"strings"

	"marketsync/internal/logger"
)

type StartupSummary struct {
	StorePath string
	HTTPAddr  string
	Assets    []AssetSummary
}

type AssetSummary struct {
	Name       string
	Source     string
	Symbols    []string
	Timeframes []string
	Trigger    string
	DaysBack   int
}

func (s *StartupSummary) Print() {
	var b strings.Builder
	b.WriteString(strings.Repeat("=", 80) + "\n")
	title := "启动配置摘要 (STARTUP SUMMARY)"
	fmt.Fprintf(&b, "%*s\n", 40+len(title)/2, title)
	b.WriteString(strings.Repeat("=", 80) + "\n")

	fmt.Fprintf(&b, "  存储: %s\n", s.StorePath)
	fmt.Fprintf(&b, "  HTTP: %s\n\n", s.HTTPAddr)

	b.WriteString("[同步任务 (JOBS)]\n")
	if len(s.Assets) == 0 {
		b.WriteString("  (无配置)\n")
	}
	for _, a := range s.Assets {
		fmt.Fprintf(&b, "  > %s (数据源: %s)\n", a.Name, a.Source)
		fmt.Fprintf(&b, "    标的(%d): %s\n", len(a.Symbols), formatList(a.Symbols))
		fmt.Fprintf(&b, "    周期: %s\n", formatList(a.Timeframes))
		fmt.Fprintf(&b, "    触发: %s\n", a.Trigger)
		if a.DaysBack > 0 {
			fmt.Fprintf(&b, "    回补天数: %d\n", a.DaysBack)
		}
	}
	b.WriteString(strings.Repeat("=", 80))
	logger.InfoBlock(b.String())
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	const maxShown = 12
	if len(items) > maxShown {
		return strings.Join(items[:maxShown], ", ") + fmt.Sprintf(" ... (+%d)", len(items)-maxShown)
	}
	return strings.Join(items, ", ")
}
