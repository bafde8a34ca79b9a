package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/husobiker/qrcard-sub003/internal/calllog"
	"github.com/husobiker/qrcard-sub003/internal/connection"
	"github.com/husobiker/qrcard-sub003/internal/dialect"
	"github.com/husobiker/qrcard-sub003/internal/gateway"
	"github.com/husobiker/qrcard-sub003/internal/models"
	"github.com/husobiker/qrcard-sub003/internal/stats"
)

// Deps are the services the commands operate on.
type Deps struct {
	Connections *connection.Manager
	Gateway     *gateway.Gateway
	Logs        *calllog.Store
	Stats       *stats.Tracker
}

type commands struct {
	Deps
}

func InitCLI(deps Deps) *cobra.Command {
	c := &commands{Deps: deps}

	rootCmd := &cobra.Command{
		Use:   "gateway",
		Short: "PBX Call Gateway Management",
		Long: `PBX Call Gateway Management

Manage PBX connections, place test calls and inspect call logs and
dialect statistics.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// PBX connection commands
	pbxCmd := &cobra.Command{
		Use:   "pbx",
		Short: "Manage PBX connections",
	}

	pbxAddCmd := &cobra.Command{
		Use:   "add",
		Short: "Add or update a PBX connection",
		RunE:  c.addConnection,
	}
	pbxAddCmd.Flags().StringP("company", "c", "", "Company ID (required)")
	pbxAddCmd.Flags().StringP("employee", "e", "", "Employee ID (empty for the company default)")
	pbxAddCmd.Flags().StringP("url", "u", "", "PBX base URL (required)")
	pbxAddCmd.Flags().StringP("santral", "s", "", "Santral (tenant) ID (required)")
	pbxAddCmd.Flags().StringP("api-key", "k", "", "API key (required)")
	pbxAddCmd.Flags().StringP("extension", "x", "", "Caller extension")
	pbxAddCmd.Flags().Bool("inactive", false, "Store the connection disabled")
	pbxAddCmd.MarkFlagRequired("company")
	pbxAddCmd.MarkFlagRequired("url")
	pbxAddCmd.MarkFlagRequired("santral")
	pbxAddCmd.MarkFlagRequired("api-key")

	pbxListCmd := &cobra.Command{
		Use:   "list",
		Short: "List PBX connections",
		RunE:  c.listConnections,
	}
	pbxListCmd.Flags().StringP("company", "c", "", "Filter by company")

	pbxShowCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show PBX connection details",
		Args:  cobra.ExactArgs(1),
		RunE:  c.showConnection,
	}

	pbxDeleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a PBX connection",
		Args:  cobra.ExactArgs(1),
		RunE:  c.deleteConnection,
	}
	pbxDeleteCmd.Flags().BoolP("yes", "y", false, "Skip confirmation")

	pbxCmd.AddCommand(pbxAddCmd, pbxListCmd, pbxShowCmd, pbxDeleteCmd)

	// Call commands
	callCmd := &cobra.Command{
		Use:   "call",
		Short: "Start or end a call through the gateway",
	}

	callStartCmd := &cobra.Command{
		Use:   "start <phone-number>",
		Short: "Start a call",
		Args:  cobra.ExactArgs(1),
		RunE:  c.startCall,
	}
	callEndCmd := &cobra.Command{
		Use:   "end <call-id>",
		Short: "End a call",
		Args:  cobra.ExactArgs(1),
		RunE:  c.endCall,
	}
	for _, cmd := range []*cobra.Command{callStartCmd, callEndCmd} {
		cmd.Flags().StringP("company", "c", "", "Resolve credentials for this company")
		cmd.Flags().StringP("employee", "e", "", "Resolve credentials for this employee")
		cmd.Flags().StringP("url", "u", "", "PBX base URL (skips resolution)")
		cmd.Flags().StringP("santral", "s", "", "Santral ID")
		cmd.Flags().StringP("api-key", "k", "", "API key")
		cmd.Flags().StringP("extension", "x", "", "Caller extension")
	}
	callCmd.AddCommand(callStartCmd, callEndCmd)

	// Call log commands
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Inspect call logs",
	}
	logsListCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent call logs",
		RunE:  c.listLogs,
	}
	logsListCmd.Flags().IntP("limit", "l", 20, "Number of records to show")
	logsStatsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show call log statistics",
		RunE:  c.logStats,
	}
	for _, cmd := range []*cobra.Command{logsListCmd, logsStatsCmd} {
		cmd.Flags().StringP("company", "c", "", "Filter by company")
		cmd.Flags().StringP("employee", "e", "", "Filter by employee")
	}
	logsCmd.AddCommand(logsListCmd, logsStatsCmd)

	// Dialect commands
	dialectsCmd := &cobra.Command{
		Use:   "dialects",
		Short: "Inspect the endpoint catalog",
	}
	dialectsListCmd := &cobra.Command{
		Use:   "list",
		Short: "Show the catalog in probing order",
		RunE:  c.listDialects,
	}
	dialectsStatsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-santral dialect statistics",
		RunE:  c.dialectStats,
	}
	dialectsStatsCmd.Flags().StringP("santral", "s", "", "Filter by santral ID")
	dialectsCmd.AddCommand(dialectsListCmd, dialectsStatsCmd)

	rootCmd.AddCommand(pbxCmd, callCmd, logsCmd, dialectsCmd)
	return rootCmd
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetBorder(true)
	table.SetRowLine(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	return table
}

// PBX connection handlers
func (c *commands) addConnection(cmd *cobra.Command, args []string) error {
	company, _ := cmd.Flags().GetString("company")
	employee, _ := cmd.Flags().GetString("employee")
	url, _ := cmd.Flags().GetString("url")
	santral, _ := cmd.Flags().GetString("santral")
	apiKey, _ := cmd.Flags().GetString("api-key")
	extension, _ := cmd.Flags().GetString("extension")
	inactive, _ := cmd.Flags().GetBool("inactive")

	conn := &models.PBXConnection{
		CompanyID:   company,
		EmployeeID:  employee,
		EndpointURL: url,
		TenantID:    santral,
		APIKey:      apiKey,
		Extension:   extension,
		Active:      !inactive,
	}
	if err := c.Connections.Save(cmd.Context(), conn); err != nil {
		return fmt.Errorf("failed to save connection: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, color.GreenString("✓ PBX connection %d saved", conn.ID))
	fmt.Fprintln(out, "\nConnection Details:")
	fmt.Fprintf(out, "  Company: %s\n", conn.CompanyID)
	if conn.EmployeeID != "" {
		fmt.Fprintf(out, "  Employee: %s\n", conn.EmployeeID)
	} else {
		fmt.Fprintf(out, "  Employee: (company default)\n")
	}
	fmt.Fprintf(out, "  Endpoint: %s\n", conn.EndpointURL)
	fmt.Fprintf(out, "  Santral: %s\n", conn.TenantID)
	return nil
}

func (c *commands) listConnections(cmd *cobra.Command, args []string) error {
	company, _ := cmd.Flags().GetString("company")

	conns, err := c.Connections.List(cmd.Context(), company)
	if err != nil {
		return fmt.Errorf("failed to list connections: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(conns) == 0 {
		fmt.Fprintln(out, "No PBX connections found")
		return nil
	}

	table := newTable(out, []string{"ID", "Company", "Employee", "Endpoint", "Santral", "Extension", "Status"})
	for _, conn := range conns {
		employee := conn.EmployeeID
		if employee == "" {
			employee = "*"
		}
		status := color.GreenString("Active")
		if !conn.Active {
			status = color.RedString("Inactive")
		}
		table.Append([]string{
			strconv.FormatInt(conn.ID, 10),
			conn.CompanyID,
			employee,
			conn.EndpointURL,
			conn.TenantID,
			conn.Extension,
			status,
		})
	}
	table.Render()
	fmt.Fprintf(out, "\nTotal: %d connections\n", len(conns))
	return nil
}

func (c *commands) showConnection(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid connection id %q", args[0])
	}
	conn, err := c.Connections.Get(cmd.Context(), id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nPBX Connection: %d\n", conn.ID)
	fmt.Fprintln(out, strings.Repeat("-", 40))
	fmt.Fprintf(out, "Company: %s\n", conn.CompanyID)
	fmt.Fprintf(out, "Employee: %s\n", conn.EmployeeID)
	fmt.Fprintf(out, "Endpoint: %s\n", conn.EndpointURL)
	fmt.Fprintf(out, "Santral: %s\n", conn.TenantID)
	fmt.Fprintf(out, "API Key: %s\n", strings.Repeat("*", len(conn.APIKey)))
	fmt.Fprintf(out, "Extension: %s\n", conn.Extension)
	if conn.Active {
		fmt.Fprintf(out, "Status: %s\n", color.GreenString("Active"))
	} else {
		fmt.Fprintf(out, "Status: %s\n", color.RedString("Inactive"))
	}
	fmt.Fprintf(out, "Created: %s\n", conn.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Updated: %s\n", conn.UpdatedAt.Format("2006-01-02 15:04:05"))
	return nil
}

func (c *commands) deleteConnection(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid connection id %q", args[0])
	}

	out := cmd.OutOrStdout()
	if yes, _ := cmd.Flags().GetBool("yes"); !yes {
		fmt.Fprintf(out, "Are you sure you want to delete connection %d? [y/N]: ", id)
		response, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		response = strings.ToLower(strings.TrimSpace(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(out, "Deletion cancelled")
			return nil
		}
	}

	if err := c.Connections.Delete(cmd.Context(), id); err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	fmt.Fprintln(out, color.GreenString("✓ PBX connection %d deleted", id))
	return nil
}

// Call handlers
func (c *commands) params(cmd *cobra.Command) (models.ConnectionParams, error) {
	url, _ := cmd.Flags().GetString("url")
	if url != "" {
		santral, _ := cmd.Flags().GetString("santral")
		apiKey, _ := cmd.Flags().GetString("api-key")
		extension, _ := cmd.Flags().GetString("extension")
		return models.ConnectionParams{EndpointURL: url, TenantID: santral, APIKey: apiKey, Extension: extension}, nil
	}

	company, _ := cmd.Flags().GetString("company")
	employee, _ := cmd.Flags().GetString("employee")
	if company == "" {
		return models.ConnectionParams{}, fmt.Errorf("either --url or --company is required")
	}
	return c.Connections.Resolve(cmd.Context(), employee, company)
}

func (c *commands) startCall(cmd *cobra.Command, args []string) error {
	params, err := c.params(cmd)
	if err != nil {
		return err
	}
	result, err := c.Gateway.StartCall(cmd.Context(), params, args[0])
	if err != nil {
		return describeCallError(cmd.OutOrStdout(), err)
	}
	printResult(cmd.OutOrStdout(), "Call started", result)
	return nil
}

func (c *commands) endCall(cmd *cobra.Command, args []string) error {
	params, err := c.params(cmd)
	if err != nil {
		return err
	}
	result, err := c.Gateway.EndCall(cmd.Context(), params, args[0])
	if err != nil {
		return describeCallError(cmd.OutOrStdout(), err)
	}
	printResult(cmd.OutOrStdout(), "Call ended", result)
	return nil
}

func printResult(out io.Writer, title string, result *dialect.CallResult) {
	fmt.Fprintln(out, color.GreenString("✓ %s", title))
	callID := "(none)"
	if result.RemoteCallID != nil {
		callID = *result.RemoteCallID
	}
	fmt.Fprintf(out, "  Call ID: %s\n", callID)
	fmt.Fprintf(out, "  Dialect: %s\n", result.Dialect)
	fmt.Fprintf(out, "  Response: %s\n", result.Raw)
}

// describeCallError prints the per-attempt outcomes when every endpoint
// failed.
func describeCallError(out io.Writer, err error) error {
	var failed *dialect.AllEndpointsFailedError
	if !errors.As(err, &failed) {
		return err
	}
	table := newTable(out, []string{"#", "Attempt", "Method", "URL", "Result"})
	for i, o := range failed.Outcomes {
		result := strconv.Itoa(o.HTTPStatus)
		if o.Err != nil {
			result = o.TransportError()
		}
		table.Append([]string{strconv.Itoa(i + 1), o.Name, o.Method, o.URL, result})
	}
	table.Render()
	return fmt.Errorf("all %d endpoints failed", len(failed.Outcomes))
}

// Call log handlers
func logFilter(cmd *cobra.Command) models.CallLogFilter {
	company, _ := cmd.Flags().GetString("company")
	employee, _ := cmd.Flags().GetString("employee")
	filter := models.CallLogFilter{CompanyID: company, EmployeeID: employee}
	if cmd.Flags().Lookup("limit") != nil {
		filter.Limit, _ = cmd.Flags().GetInt("limit")
	}
	return filter
}

func (c *commands) listLogs(cmd *cobra.Command, args []string) error {
	logs, err := c.Logs.GetCallLogs(cmd.Context(), logFilter(cmd))
	if err != nil {
		return fmt.Errorf("failed to query call logs: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(logs) == 0 {
		fmt.Fprintln(out, "No call logs found")
		return nil
	}

	table := newTable(out, []string{"Start", "Employee", "Type", "Number", "Customer", "Duration", "Status"})
	for _, l := range logs {
		status := l.CallStatus
		switch l.CallStatus {
		case models.CallStatusCompleted:
			status = color.GreenString("%s", status)
		case models.CallStatusFailed:
			status = color.RedString("%s", status)
		default:
			status = color.YellowString("%s", status)
		}
		table.Append([]string{
			l.StartTime.Local().Format("2006-01-02 15:04:05"),
			l.EmployeeID,
			l.CallType,
			l.PhoneNumber,
			l.CustomerName,
			fmt.Sprintf("%ds", l.DurationSeconds),
			status,
		})
	}
	table.Render()
	fmt.Fprintf(out, "\nShowing %d calls\n", len(logs))
	return nil
}

func (c *commands) logStats(cmd *cobra.Command, args []string) error {
	s, err := c.Logs.GetCallLogStats(cmd.Context(), logFilter(cmd))
	if err != nil {
		return fmt.Errorf("failed to load call log stats: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "\n=== Call Statistics ===")
	fmt.Fprintf(out, "Total Calls: %d\n", s.Total)
	fmt.Fprintf(out, "Outgoing: %d\n", s.Outgoing)
	fmt.Fprintf(out, "Incoming: %d\n", s.Incoming)
	fmt.Fprintf(out, "Missed: %d\n", s.Missed)
	fmt.Fprintf(out, "Total Duration: %ds\n", s.TotalDuration)
	fmt.Fprintf(out, "Average Duration: %ds\n", s.AverageDuration)
	return nil
}

// Dialect handlers
func (c *commands) listDialects(cmd *cobra.Command, args []string) error {
	catalog := c.Gateway.Catalog()
	table := newTable(cmd.OutOrStdout(), []string{"Intent", "#", "Name", "URL Template"})
	for _, kind := range []dialect.IntentKind{dialect.Start, dialect.End} {
		for i, a := range catalog.For(kind) {
			table.Append([]string{kind.String(), strconv.Itoa(i + 1), a.Name, a.URL})
		}
	}
	table.Render()
	return nil
}

func (c *commands) dialectStats(cmd *cobra.Command, args []string) error {
	santral, _ := cmd.Flags().GetString("santral")

	list, err := c.Stats.List(cmd.Context(), santral)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(out, "No dialect statistics recorded")
		return nil
	}

	table := newTable(out, []string{"Santral", "Intent", "Attempt", "Total", "OK", "Failed", "Success %", "Last Status", "Last Attempt"})
	for _, s := range list {
		rate := fmt.Sprintf("%.1f%%", s.SuccessRate)
		if s.SuccessRate >= 50 {
			rate = color.GreenString("%s", rate)
		} else {
			rate = color.RedString("%s", rate)
		}
		table.Append([]string{
			s.TenantID,
			s.Intent,
			s.AttemptName,
			strconv.FormatInt(s.TotalAttempts, 10),
			strconv.FormatInt(s.Successes, 10),
			strconv.FormatInt(s.Failures, 10),
			rate,
			strconv.Itoa(s.LastStatus),
			s.LastAttemptAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	table.Render()
	return nil
}

// Execute runs root with ctx and prints any error the way every command
// reports failures.
func Execute(ctx context.Context, root *cobra.Command) error {
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(root.ErrOrStderr(), color.RedString("Error: %v", err))
	}
	return err
}
