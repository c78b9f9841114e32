package main

import (
	"bytes"
	"fmt"
	"time"

	"github.com/marcelsud/webhook-dispatch/internal/exportsink"
	"github.com/marcelsud/webhook-dispatch/monitor"
	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/spf13/cobra"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export delivery events to a file or S3 bucket",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		rawFormat, _ := flags.GetString("format")
		rawStatus, _ := flags.GetString("status")
		endpointID, _ := flags.GetString("endpoint")
		since, _ := flags.GetDuration("since")

		format := monitor.NewFormat(rawFormat)
		if err := format.Validate(); err != nil {
			return err
		}
		filter := monitor.ExportFilter{EndpointID: endpointID}
		if rawStatus != "" {
			filter.Status = webhook.NewStatus(rawStatus)
			if err := filter.Status.Validate(); err != nil {
				return fmt.Errorf("--status must be PENDING, DELIVERED or FAILED")
			}
		}
		now := time.Now().UTC()
		if since > 0 {
			filter.From = now.Add(-since)
		}

		sink, err := exportsink.New(cmd.Context(), cfg.Export)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		var buf bytes.Buffer
		if err := a.monitor.Export(cmd.Context(), &buf, format, filter); err != nil {
			return err
		}

		name := fmt.Sprintf("events-%s.%s", now.Format("20060102T150405Z"), format)
		location, err := sink.Write(cmd.Context(), name, format.ContentType(), &buf)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported to %s\n", location)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("format", "json", "json or csv")
	exportCmd.Flags().String("status", "", "only events in this status")
	exportCmd.Flags().String("endpoint", "", "only events of this endpoint id")
	exportCmd.Flags().Duration("since", 0, "only events created within this duration, e.g. 168h")
}
