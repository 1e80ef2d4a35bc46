// Package query implements the query sub-command, which runs a single read
// against a node and prints the result as JSON.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/oasisprotocol/chainview/accessor"
	"github.com/oasisprotocol/chainview/api"
	"github.com/oasisprotocol/chainview/codec"
	cmdCommon "github.com/oasisprotocol/chainview/cmd/common"
	"github.com/oasisprotocol/chainview/config"
	"github.com/oasisprotocol/chainview/registry"
	"github.com/oasisprotocol/chainview/storage/nodeapi"
)

const moduleName = "query"

var (
	// Path to the configuration file.
	configFile string

	queryCmd = &cobra.Command{
		Use:   "query",
		Short: "Read items at a block and print them as JSON",
		Long: `Read items at a block and print them as JSON.

BLOCK is a height or a 0x-prefixed block hash. ITEM is Section.Name.
KEY is a comma-separated list of hex-encoded, SCALE-encoded key parts.`,
	}
)

// querier runs reads against one source.
type querier struct {
	source *cmdCommon.Source
	out    io.Writer
}

func (q *querier) target(ctx context.Context, blockArg string, itemArg string) (nodeapi.BlockRef, registry.ItemIdentity, error) {
	block, err := nodeapi.ParseBlockRef(ctx, q.source.Node, blockArg)
	if err != nil {
		return block, registry.ItemIdentity{}, err
	}
	item, err := registry.ParseItemIdentity(itemArg)
	return block, item, err
}

func (q *querier) print(v any) error {
	enc := json.NewEncoder(q.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (q *querier) exists(ctx context.Context, args []string) error {
	block, item, err := q.target(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	exists, err := q.source.Storage.Exists(ctx, block, item)
	if err != nil {
		return err
	}
	return q.print(api.ExistsResponse{Block: api.NewBlock(block), Item: item.String(), Exists: exists})
}

func (q *querier) get(ctx context.Context, args []string) error {
	block, item, err := q.target(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	key, err := api.ParseKey(args[2:])
	if err != nil {
		return err
	}
	value, ok, err := q.source.Storage.Get(ctx, block, item, key)
	if err != nil {
		return err
	}
	return q.print(api.ValueResponse{Block: api.NewBlock(block), Item: item.String(), Present: ok, Value: value})
}

func (q *querier) getMany(ctx context.Context, args []string) error {
	block, item, err := q.target(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	keys := make([]registry.KeyTuple, 0, len(args)-2)
	for _, arg := range args[2:] {
		key, err := api.ParseKey(strings.Split(arg, ","))
		if err != nil {
			return err
		}
		keys = append(keys, key)
	}
	entries, err := q.source.Storage.GetMany(ctx, block, item, keys)
	if err != nil {
		return err
	}
	return q.print(api.NewEntriesResponse(block, item, entries))
}

func (q *querier) getAll(ctx context.Context, args []string) error {
	block, item, err := q.target(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	entries, err := q.source.Storage.GetAll(ctx, block, item)
	if err != nil {
		return err
	}
	return q.print(api.NewEntriesResponse(block, item, entries))
}

func (q *querier) decodeEvents(ctx context.Context, args []string) error {
	block, item, err := q.target(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	raw := make([]accessor.RawEvent, 0, len(args)-2)
	for _, arg := range args[2:] {
		data, err := hexutil.Decode(arg)
		if err != nil {
			return fmt.Errorf("event data %q: %w", arg, err)
		}
		raw = append(raw, accessor.RawEvent{Item: item, Data: data})
	}
	resp := api.EventsResponse{Block: api.NewBlock(block), Item: item.String()}
	for _, e := range q.source.Events.DecodeEvents(ctx, block, raw) {
		entry := api.EventEntry{Value: e.Value}
		if e.Err != nil {
			entry.Error = e.Err.Error()
		}
		resp.Events = append(resp.Events, entry)
	}
	return q.print(resp)
}

// withSource loads the config, builds the read stack and runs `fn` with it.
func withSource(fn func(q *querier, ctx context.Context, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := config.InitConfig(configFile)
		if err != nil {
			return err
		}
		if cfg.Source == nil {
			return fmt.Errorf("source config not provided")
		}
		if err = cmdCommon.InitWithLogStream(ctx, cfg, cmd.ErrOrStderr()); err != nil {
			return err
		}
		logger := cmdCommon.RootLogger().WithModule(moduleName)

		source, err := cmdCommon.NewSource(ctx, cfg.Source, codec.Default(), logger)
		if err != nil {
			return err
		}
		defer source.Close(logger)

		q := &querier{source: source, out: cmd.OutOrStdout()}
		return fn(q, ctx, args)
	}
}

func init() {
	queryCmd.PersistentFlags().StringVar(&configFile, "config", "./conf/server.yml", "path to the config.yml file")

	queryCmd.AddCommand(
		&cobra.Command{
			Use:   "exists BLOCK ITEM",
			Short: "Report whether an item exists with a supported encoding",
			Args:  cobra.ExactArgs(2),
			RunE:  withSource((*querier).exists),
		},
		&cobra.Command{
			Use:   "get BLOCK ITEM [KEYPART...]",
			Short: "Read one value",
			Args:  cobra.MinimumNArgs(2),
			RunE:  withSource((*querier).get),
		},
		&cobra.Command{
			Use:   "get-many BLOCK ITEM KEY...",
			Short: "Read many keys of a storage map",
			Args:  cobra.MinimumNArgs(3),
			RunE:  withSource((*querier).getMany),
		},
		&cobra.Command{
			Use:   "get-all BLOCK ITEM",
			Short: "Read every entry of a storage map",
			Args:  cobra.ExactArgs(2),
			RunE:  withSource((*querier).getAll),
		},
		&cobra.Command{
			Use:   "decode-events BLOCK ITEM DATA...",
			Short: "Decode raw occurrences of one event kind",
			Args:  cobra.MinimumNArgs(3),
			RunE:  withSource((*querier).decodeEvents),
		},
	)
}

// Register registers the query sub-command.
func Register(parentCmd *cobra.Command) {
	parentCmd.AddCommand(queryCmd)
}
