package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/goe-bridge/plugins/goecharger"
)

func attributesCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	flags := flag.NewFlagSet("attributes", flag.ExitOnError)
	jsonOut := flags.Bool("json", false, "output JSON")
	_ = flags.Parse(args)
	out := outputMode{json: *jsonOut}

	resp, err := goecharger.NewEvChargerClient(conn).GetAttributes(ctx)
	if err != nil {
		fatal("get attributes", err)
	}
	if out.json {
		out.printJSON(resp.AsMap())
		return
	}

	fmt.Println(resp.GetFields()["service"].GetStringValue())
	out.table(attributeRows(resp))
}

func attributeRows(resp *structpb.Struct) [][]string {
	rows := [][]string{{"PATH", "VALUE", "TEXT", "WRITABLE"}}
	for _, item := range resp.GetFields()["attributes"].GetListValue().GetValues() {
		attr := item.GetStructValue().AsMap()
		writable := ""
		if w, _ := attr["writable"].(bool); w {
			writable = "yes"
		}
		path, _ := attr["path"].(string)
		text, _ := attr["text"].(string)
		rows = append(rows, []string{path, displayValue(attr["value"]), text, writable})
	}
	return rows
}

func livenessCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	flags := flag.NewFlagSet("liveness", flag.ExitOnError)
	jsonOut := flags.Bool("json", false, "output JSON")
	_ = flags.Parse(args)
	out := outputMode{json: *jsonOut}

	resp, err := goecharger.NewEvChargerClient(conn).GetLiveness(ctx)
	if err != nil {
		fatal("get liveness", err)
	}
	report := resp.AsMap()
	if out.json {
		out.printJSON(report)
		return
	}

	lastUpdate := displayValue(report["last_update"])
	if lastUpdate == "" {
		lastUpdate = "never"
	}
	out.table([][]string{
		{"LAST UPDATE", "POWER", "INDEX", "OK", "FAILED", "LAST ERROR"},
		{
			lastUpdate,
			displayValue(report["power_w"]),
			displayValue(report["update_index"]),
			displayValue(report["successes"]),
			displayValue(report["failures"]),
			displayValue(report["last_error"]),
		},
	})
}

func setCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	if len(args) < 2 {
		fatal("set", fmt.Errorf("usage: set <path> <json value>"))
	}
	value, err := parseValue(args[1])
	if err != nil {
		fatal("set", err)
	}

	client := goecharger.NewEvChargerClient(conn)
	attrs, err := client.GetAttributes(ctx)
	if err != nil {
		fatal("get attributes", err)
	}
	path, err := resolvePath(args[0], attributePaths(attrs))
	if err != nil {
		fatal("set", err)
	}

	resp, err := client.SetAttribute(ctx, path, value)
	if err != nil {
		fatal("set attribute", err)
	}
	fmt.Printf("%s = %s\n", path, resp.GetFields()["text"].GetStringValue())
}

func attributePaths(resp *structpb.Struct) []string {
	var paths []string
	for _, item := range resp.GetFields()["attributes"].GetListValue().GetValues() {
		if path := item.GetStructValue().GetFields()["path"].GetStringValue(); path != "" {
			paths = append(paths, path)
		}
	}
	return paths
}

// parseValue reads a JSON scalar; anything that is not valid JSON is taken as a string.
func parseValue(input string) (any, error) {
	var value any
	if err := json.Unmarshal([]byte(input), &value); err != nil {
		return input, nil
	}
	switch value.(type) {
	case map[string]any, []any:
		return nil, fmt.Errorf("value must be a scalar, got %s", input)
	}
	return value, nil
}
