package reconcile

import (
	"fmt"

	"github.com/deniskipeles/swalang-sandbox/pkg/models"
	"github.com/deniskipeles/swalang-sandbox/pkg/protocol"
	"github.com/deniskipeles/swalang-sandbox/pkg/tree"
)

// Snapshot is one project as loaded from storage, independent of the
// strategy the storage service used to hold it.
type Snapshot struct {
	Strategy string
	Size     int64
	Version  string
	Nodes    models.Nodes

	// Lazy is true when file content must be fetched on demand.
	Lazy bool
	// RemotePaths maps file ids to the path the storage service knows
	// them by. It is only set for lazy snapshots; local renames must not
	// change where content is fetched from.
	RemotePaths map[string]string
}

// Codec decodes one storage strategy.
type Codec interface {
	Strategy() string
	Decode(resp *protocol.ProjectResponse) (*Snapshot, error)
}

// FatCodec decodes a nested tree with inline content.
type FatCodec struct{}

func (FatCodec) Strategy() string { return protocol.StrategyFat }

func (FatCodec) Decode(resp *protocol.ProjectResponse) (*Snapshot, error) {
	nodes := resp.Tree
	if nodes == nil {
		nodes = models.Nodes{}
	}
	EnsureUniqueIDs(nodes)
	return &Snapshot{
		Strategy: protocol.StrategyFat,
		Size:     resp.Size,
		Version:  string(resp.Version),
		Nodes:    nodes,
	}, nil
}

// SplitCodec decodes a flat path list whose content is fetched lazily.
type SplitCodec struct{}

func (SplitCodec) Strategy() string { return protocol.StrategySplit }

func (SplitCodec) Decode(resp *protocol.ProjectResponse) (*Snapshot, error) {
	nodes := BuildTreeFromFlatList(resp.Files)
	remote := make(map[string]string)
	tree.Walk(nodes, func(n models.Node, _ *models.Folder, path string) bool {
		if _, ok := n.(*models.File); ok {
			remote[n.NodeID()] = path
		}
		return true
	})
	return &Snapshot{
		Strategy:    protocol.StrategySplit,
		Size:        resp.Size,
		Version:     string(resp.Version),
		Nodes:       nodes,
		Lazy:        true,
		RemotePaths: remote,
	}, nil
}

var codecs = map[string]Codec{
	protocol.StrategyFat:   FatCodec{},
	protocol.StrategySplit: SplitCodec{},
}

// Decode picks the codec for resp.Strategy.
func Decode(resp *protocol.ProjectResponse) (*Snapshot, error) {
	codec, ok := codecs[resp.Strategy]
	if !ok {
		return nil, fmt.Errorf("unknown storage strategy %q", resp.Strategy)
	}
	return codec.Decode(resp)
}

// Encode builds the save body for a tree: the storage service always
// accepts a whole tree with inline content and picks its own strategy.
func Encode(nodes models.Nodes, src ContentSource) *protocol.SaveRequest {
	return &protocol.SaveRequest{Tree: MergeContentIntoTree(nodes, src)}
}

// EnsureUniqueIDs gives a fresh id to every node whose id is empty or
// was already seen earlier in the walk.
func EnsureUniqueIDs(nodes models.Nodes) int {
	seen := make(map[string]bool)
	fixed := 0
	tree.Walk(nodes, func(n models.Node, _ *models.Folder, _ string) bool {
		id := n.NodeID()
		if id != "" && !seen[id] {
			seen[id] = true
			return true
		}
		id = tree.NewID()
		switch v := n.(type) {
		case *models.File:
			v.ID = id
		case *models.Folder:
			v.ID = id
		}
		seen[id] = true
		fixed++
		return true
	})
	return fixed
}
