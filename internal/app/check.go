package app

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"poolwatcher/internal/labcom"
)

// Check performs the setup validation once and prints the discovered devices.
func (a *App) Check(ctx context.Context) error {
	client := a.newClient()
	cache := labcom.NewCache(client, a.Config.Labcom.CacheTTL, a.Logger)

	devices, err := a.validateSetup(ctx, cache)
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stdout, "token ok")

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Device\tName\tSerial")
	for _, device := range devices {
		fmt.Fprintf(writer, "%s\t%s\t%s\n", device.ID, device.Name, device.SerialNumber)
	}
	return writer.Flush()
}
