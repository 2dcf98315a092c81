package execution

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/xroute/internal/errors"
)

type ActionStatus string

type StepStatus string

type StepType string

// Actions are only ever planned here; a wallet collaborator signs and
// submits them.
const (
	ActionStatusPlanned ActionStatus = "planned"
)

const (
	StepStatusPending StepStatus = "pending"
)

const (
	StepTypeApproval StepType = "approval"
	StepTypeSwap     StepType = "swap"
	StepTypeBridge   StepType = "bridge_send"
	StepTypeTransfer StepType = "transfer"
)

type Constraints struct {
	SlippageBps int64  `json:"slippage_bps,omitempty"`
	Deadline    string `json:"deadline,omitempty"`
}

type ActionStep struct {
	StepID          string            `json:"step_id"`
	Type            StepType          `json:"type"`
	Status          StepStatus        `json:"status"`
	ChainID         string            `json:"chain_id"`
	RPCURL          string            `json:"rpc_url,omitempty"`
	Description     string            `json:"description,omitempty"`
	Target          string            `json:"target"`
	Data            string            `json:"data"`
	Value           string            `json:"value"`
	ExpectedOutputs map[string]string `json:"expected_outputs,omitempty"`
}

type Action struct {
	ActionID    string         `json:"action_id"`
	IntentType  string         `json:"intent_type"`
	Provider    string         `json:"provider,omitempty"`
	Status      ActionStatus   `json:"status"`
	ChainID     string         `json:"chain_id"`
	FromAddress string         `json:"from_address,omitempty"`
	ToAddress   string         `json:"to_address,omitempty"`
	InputAmount string         `json:"input_amount,omitempty"`
	CreatedAt   string         `json:"created_at"`
	Constraints Constraints    `json:"constraints"`
	Steps       []ActionStep   `json:"steps"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func NewAction(actionID, intentType, chainID string, constraints Constraints) Action {
	return Action{
		ActionID:    actionID,
		IntentType:  intentType,
		Status:      ActionStatusPlanned,
		ChainID:     chainID,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		Constraints: constraints,
		Steps:       []ActionStep{},
	}
}

// Validate checks that every step carries a callable target and hex calldata.
func (a Action) Validate() error {
	if len(a.Steps) == 0 {
		return clierr.New(clierr.CodeInternal, "action has no steps")
	}
	for _, step := range a.Steps {
		if !common.IsHexAddress(step.Target) {
			return clierr.New(clierr.CodeInternal, fmt.Sprintf("step %s has invalid target %q", step.StepID, step.Target))
		}
		if !strings.HasPrefix(step.Data, "0x") {
			return clierr.New(clierr.CodeInternal, fmt.Sprintf("step %s calldata must be 0x-prefixed", step.StepID))
		}
	}
	return nil
}
