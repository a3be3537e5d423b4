package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/atvirokodosprendimai/cmdgate/internal/domain"
)

func printJSON(v any) error {
	b, err := jsonMarshal(v)
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func printKV(rows [][2]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", row[0], row[1])
	}
	_ = w.Flush()
}

func printTable(headers []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Println("no results")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, strings.Join(headers, "\t"))
	for _, row := range rows {
		_, _ = fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

func formatMaybeUint(v *uint) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatUint(uint64(*v), 10)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func printUsers(items []domain.User) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			strconv.FormatUint(uint64(item.ID), 10),
			item.Username,
			item.Role,
			strconv.Itoa(item.Credits),
			strconv.FormatBool(item.Active),
			formatTime(item.CreatedAt),
		})
	}
	printTable([]string{"ID", "USERNAME", "ROLE", "CREDITS", "ACTIVE", "CREATED_AT"}, rows)
}

func printRules(items []domain.Rule) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			strconv.FormatUint(uint64(item.ID), 10),
			item.Pattern,
			string(item.Action),
			strconv.Itoa(item.Priority),
			item.Description,
		})
	}
	printTable([]string{"ID", "PATTERN", "ACTION", "PRIORITY", "DESCRIPTION"}, rows)
}

func printCommands(items []domain.Command) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			strconv.FormatUint(uint64(item.ID), 10),
			strconv.FormatUint(uint64(item.UserID), 10),
			item.CommandText,
			string(item.Status),
			strconv.Itoa(item.CreditsDeducted),
			formatMaybeUint(item.RuleID),
			item.Result,
			formatTime(item.SubmittedAt),
		})
	}
	printTable([]string{"ID", "USER_ID", "COMMAND", "STATUS", "DEBIT", "RULE_ID", "RESULT", "SUBMITTED_AT"}, rows)
}

func printApprovals(items []domain.ApprovalSummary) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			strconv.FormatUint(uint64(item.ID), 10),
			strconv.FormatUint(uint64(item.CommandID), 10),
			item.CommandText,
			item.RequesterUsername,
			string(item.Status),
			formatTime(item.CreatedAt),
		})
	}
	printTable([]string{"ID", "COMMAND_ID", "COMMAND", "REQUESTED_BY", "STATUS", "CREATED_AT"}, rows)
}

func printAuditRecords(items []domain.AuditRecord) {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			strconv.FormatUint(uint64(item.ID), 10),
			item.Action,
			item.TargetType,
			formatMaybeUint(item.TargetID),
			item.ActorUsername,
			item.Details,
			formatTime(item.CreatedAt),
		})
	}
	printTable([]string{"ID", "ACTION", "TARGET_TYPE", "TARGET_ID", "ACTOR", "DETAILS", "AT"}, rows)
}

func printStats(item domain.UserStats) {
	printKV([][2]string{
		{"credits", strconv.Itoa(item.Credits)},
		{"total_commands", strconv.FormatInt(item.TotalCommands, 10)},
		{"executed_commands", strconv.FormatInt(item.ExecutedCommands, 10)},
		{"rejected_commands", strconv.FormatInt(item.RejectedCommands, 10)},
	})
}

func printConflicts(report domain.ConflictReport) {
	if len(report.Conflicts) == 0 {
		fmt.Println("no conflicts")
		return
	}
	rows := make([][]string, 0, len(report.Conflicts))
	for _, conflict := range report.Conflicts {
		others := make([]string, 0, len(conflict.ConflictsWith))
		for _, other := range conflict.ConflictsWith {
			others = append(others, fmt.Sprintf("#%d(%s)", other.RuleID, other.Action))
		}
		rows = append(rows, []string{
			strconv.FormatUint(uint64(conflict.RuleID), 10),
			conflict.Pattern,
			string(conflict.Action),
			strconv.Itoa(conflict.Priority),
			strings.Join(others, " "),
		})
	}
	printTable([]string{"RULE_ID", "PATTERN", "ACTION", "PRIORITY", "CONFLICTS_WITH"}, rows)
}
