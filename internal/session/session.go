package session

import (
	"fmt"

	"skiff/internal/chatapi"
)

// Session is the persisted state: every connected workspace plus the helper
// bearer token. Exactly one workspace is active whenever any exist.
type Session struct {
	Workspaces  []chatapi.Workspace `json:"workspaces"`
	AgentBearer string              `json:"agent_bearer,omitempty"`
}

// AddWorkspace inserts or replaces a workspace by team id and makes it the
// active one.
func (s *Session) AddWorkspace(ws chatapi.Workspace) {
	for i := range s.Workspaces {
		s.Workspaces[i].Active = false
	}
	ws.Active = true
	for i := range s.Workspaces {
		if s.Workspaces[i].TeamID == ws.TeamID {
			s.Workspaces[i] = ws
			return
		}
	}
	s.Workspaces = append(s.Workspaces, ws)
}

// SetActive switches the active workspace.
func (s *Session) SetActive(teamID string) error {
	found := false
	for i := range s.Workspaces {
		if s.Workspaces[i].TeamID == teamID {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("no workspace %s in session", teamID)
	}
	for i := range s.Workspaces {
		s.Workspaces[i].Active = s.Workspaces[i].TeamID == teamID
	}
	return nil
}

// Active returns the active workspace, or false when the session is empty.
func (s *Session) Active() (chatapi.Workspace, bool) {
	for _, ws := range s.Workspaces {
		if ws.Active {
			return ws, true
		}
	}
	if len(s.Workspaces) > 0 {
		return s.Workspaces[0], true
	}
	return chatapi.Workspace{}, false
}

// Remove drops a workspace. When the active one goes, the first remaining
// workspace takes over; an emptied session also clears the helper bearer.
func (s *Session) Remove(teamID string) {
	kept := s.Workspaces[:0]
	removedActive := false
	for _, ws := range s.Workspaces {
		if ws.TeamID == teamID {
			removedActive = ws.Active
			continue
		}
		kept = append(kept, ws)
	}
	s.Workspaces = kept
	if len(s.Workspaces) == 0 {
		s.AgentBearer = ""
		return
	}
	if removedActive {
		s.Workspaces[0].Active = true
	}
}

// RotateTokens replaces the credentials of one workspace in place.
func (s *Session) RotateTokens(teamID, userToken, appToken string) error {
	for i := range s.Workspaces {
		if s.Workspaces[i].TeamID == teamID {
			s.Workspaces[i].UserToken = userToken
			s.Workspaces[i].AppToken = appToken
			return nil
		}
	}
	return fmt.Errorf("no workspace %s in session", teamID)
}

// ClearAll wipes every workspace and the helper bearer.
func (s *Session) ClearAll() {
	s.Workspaces = nil
	s.AgentBearer = ""
}
