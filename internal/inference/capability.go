package inference

import (
	"strings"

	"github.com/joss/genie/internal/domain"
)

// Capability is the closed set of model shapes the client can drive.
type Capability int

const (
	// ChatCompletion models accept text only.
	ChatCompletion Capability = iota
	// VisionChatCompletion models accept image parts alongside text.
	VisionChatCompletion
)

func (c Capability) String() string {
	if c == VisionChatCompletion {
		return "vision_chat_completion"
	}
	return "chat_completion"
}

// CapabilityFor picks the variant a model supports.
func CapabilityFor(m domain.Model) Capability {
	if m.Vision {
		return VisionChatCompletion
	}
	return ChatCompletion
}

// prepared is a conversation shaped for one capability.
type prepared struct {
	system   string
	messages []domain.Message
	images   []domain.ImagePart
	dropped  int
}

// prepare splits out the system prompt and shapes the rest of the
// conversation. Text-only models lose their images and get consecutive
// same-role messages merged.
func (c Capability) prepare(conv []domain.Message) prepared {
	var p prepared
	var system []string
	rest := make([]domain.Message, 0, len(conv))
	for _, m := range conv {
		if m.Role == domain.RoleSystem {
			if t := m.Text(); t != "" {
				system = append(system, t)
			}
			continue
		}
		rest = append(rest, m)
	}
	p.system = strings.Join(system, "\n\n")

	if c == VisionChatCompletion {
		p.messages = rest
		for _, m := range rest {
			p.images = append(p.images, m.Images()...)
		}
		return p
	}

	rest, p.dropped = domain.StripImages(rest)
	p.messages = domain.CollapseMessages(rest)
	return p
}
