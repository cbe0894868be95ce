package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/srg/blesm/internal/bledb"
	"github.com/srg/blesm/internal/device"
	"github.com/srg/blesm/internal/radio"
)

var advertiseCmd = &cobra.Command{
	Use:   "advertise",
	Short: "Publish local services and advertise them",
	Long: `Acts as a peripheral: adds local GATT services and advertises them until
Ctrl+C or --duration elapses.

Characteristics are given as uuid:properties[:hex-value], properties
separated by '+' (read, write, write-without-response, notify, indicate).

Examples:
  # A battery service with a readable level of 87%
  blesm advertise --name blesm-tag --service 180f --characteristic 2a19:read+notify:57

  # Services from a YAML file
  blesm advertise --name blesm-tag --file services.yaml --duration 30s

A services file is a list of service definitions:

  - uuid: 180f
    primary: true
    characteristics:
      - uuid: 2a19
        properties: read,notify
        value: [87]`,
	Args: cobra.NoArgs,
	RunE: runAdvertise,
}

var (
	advertiseName            string
	advertiseService         string
	advertiseCharacteristics []string
	advertiseFile            string
	advertiseDuration        time.Duration
)

func init() {
	advertiseCmd.Flags().StringVar(&advertiseName, "name", "blesm", "Local name to advertise")
	advertiseCmd.Flags().StringVar(&advertiseService, "service", "", "Service UUID to publish")
	advertiseCmd.Flags().StringSliceVarP(&advertiseCharacteristics, "characteristic", "c", nil, "Characteristic of --service as uuid:properties[:hex-value]")
	advertiseCmd.Flags().StringVar(&advertiseFile, "file", "", "YAML file with service definitions")
	advertiseCmd.Flags().DurationVarP(&advertiseDuration, "duration", "d", 0, "Advertise for this long (0 for until Ctrl+C)")
}

func runAdvertise(cmd *cobra.Command, _ []string) error {
	defs, err := serviceDefinitions()
	if err != nil {
		return err
	}

	env, err := openSession(cmd, true)
	if err != nil {
		return err
	}
	defer env.Close()

	c := env.session.Correlator()
	r := env.session.Radio()
	defer func() {
		_ = r.StopAdvertising()
		_ = r.RemoveAllServices()
	}()

	uuids := make([]string, 0, len(defs))
	labels := make([]string, 0, len(defs))
	for _, def := range defs {
		req, err := c.AddService(def)
		if err != nil {
			return err
		}
		svc, err := req.Await(env.ctx)
		if err != nil {
			return fmt.Errorf("add service %s: %w", def.UUID, err)
		}
		uuids = append(uuids, svc)
		labels = append(labels, bledb.Label(svc, bledb.LookupService))
	}

	adv, err := c.StartAdvertising(advertiseName, uuids)
	if err != nil {
		return err
	}
	if _, err := adv.Await(env.ctx); err != nil {
		return fmt.Errorf("start advertising: %w", err)
	}
	env.out.status("Advertising %q with services %s", advertiseName, strings.Join(labels, ", "))

	ctx := env.ctx
	if advertiseDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, advertiseDuration)
		defer cancel()
	}
	<-ctx.Done()
	return nil
}

// serviceDefinitions builds the services from --file or from --service and
// --characteristic, not both.
func serviceDefinitions() ([]radio.ServiceDefinition, error) {
	switch {
	case advertiseFile != "" && advertiseService != "":
		return nil, fmt.Errorf("--file and --service are mutually exclusive")
	case advertiseFile != "":
		return loadServiceDefinitions(advertiseFile)
	case advertiseService == "":
		return nil, fmt.Errorf("nothing to advertise: use --service or --file")
	}

	def := radio.ServiceDefinition{UUID: advertiseService, Primary: true}
	for _, spec := range advertiseCharacteristics {
		ch, err := parseCharacteristicDefinition(spec)
		if err != nil {
			return nil, err
		}
		def.Characteristics = append(def.Characteristics, ch)
	}
	if _, err := device.ValidateUUID(def.UUID); err != nil {
		return nil, err
	}
	return []radio.ServiceDefinition{def}, nil
}

func loadServiceDefinitions(path string) ([]radio.ServiceDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read services file %s: %w", path, err)
	}
	var defs []radio.ServiceDefinition
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("failed to parse services file %s: %w", path, err)
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("services file %s defines no services", path)
	}
	return defs, nil
}

// parseCharacteristicDefinition parses uuid:properties[:hex-value].
func parseCharacteristicDefinition(spec string) (radio.CharacteristicDefinition, error) {
	parts := strings.SplitN(spec, ":", 3)
	if len(parts) < 2 {
		return radio.CharacteristicDefinition{}, fmt.Errorf("invalid characteristic %q: want uuid:properties[:hex-value]", spec)
	}
	props := device.ParseProperties(strings.ReplaceAll(parts[1], "+", ","))
	if props == 0 {
		return radio.CharacteristicDefinition{}, fmt.Errorf("invalid characteristic %q: no known properties in %q", spec, parts[1])
	}
	ch := radio.CharacteristicDefinition{UUID: parts[0], Properties: props}
	if len(parts) == 3 {
		value, err := parseHexData(parts[2])
		if err != nil {
			return radio.CharacteristicDefinition{}, err
		}
		ch.Value = value
	}
	return ch, nil
}
