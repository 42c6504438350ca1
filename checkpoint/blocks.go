package checkpoint

import "github.com/niechao136/neGraph"

// Block is one exchange of a conversation: the user message, the assistant
// messages that invoked tools while answering it, and the final answer.
type Block struct {
	User      *negraph.Message  `json:"user"`
	ToolCalls []negraph.Message `json:"tool_calls"`
	Assistant *negraph.Message  `json:"assistant"`
}

// Blocks splits a checkpoint into exchanges. Every user message opens a new
// block. Assistant messages that appear before any user message open a block
// without one.
func Blocks(cp *negraph.Checkpoint) []Block {
	if cp.Empty() {
		return []Block{}
	}

	var (
		blocks []Block
		cur    *Block
	)
	for i := range cp.Messages {
		msg := &cp.Messages[i]

		if msg.Sender == negraph.SenderUser || cur == nil {
			blocks = append(blocks, Block{ToolCalls: []negraph.Message{}})
			cur = &blocks[len(blocks)-1]
		}

		switch {
		case msg.Sender == negraph.SenderUser:
			cur.User = msg
		case len(msg.ToolCalls) > 0:
			cur.ToolCalls = append(cur.ToolCalls, *msg)
		default:
			cur.Assistant = msg
		}
	}
	return blocks
}
