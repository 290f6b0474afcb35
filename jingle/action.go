/**
 * Jingle signaling gateway for multi-party meetings.
 * Copyright (C) 2025 struktur AG
 *
 * @author Joachim Bauch <bauch@struktur.de>
 *
 * @license GNU AGPL version 3 or any later version
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */
package jingle

// Action is the action of a Jingle request as defined in XEP-0166.
type Action string

const (
	ActionSessionInitiate  Action = "session-initiate"
	ActionSessionAccept    Action = "session-accept"
	ActionSessionInfo      Action = "session-info"
	ActionSessionTerminate Action = "session-terminate"

	ActionContentAccept Action = "content-accept"
	ActionContentAdd    Action = "content-add"
	ActionContentModify Action = "content-modify"
	ActionContentReject Action = "content-reject"
	ActionContentRemove Action = "content-remove"

	ActionTransportInfo Action = "transport-info"
)

func (a Action) IsValid() bool {
	switch a {
	case ActionSessionInitiate, ActionSessionAccept, ActionSessionInfo, ActionSessionTerminate,
		ActionContentAccept, ActionContentAdd, ActionContentModify, ActionContentReject, ActionContentRemove,
		ActionTransportInfo:
		return true
	default:
		return false
	}
}

// ContentAction describes how the contents of a session description changed.
type ContentAction string

const (
	ContentActionInit   ContentAction = "init"
	ContentActionAdd    ContentAction = "add"
	ContentActionRemove ContentAction = "remove"
	ContentActionModify ContentAction = "modify"
	ContentActionAccept ContentAction = "accept"
)

// ContentActionFromJingle returns the content action that corresponds to the
// action of a Jingle request.
func ContentActionFromJingle(action Action) ContentAction {
	switch action {
	case ActionContentAdd:
		return ContentActionAdd
	case ActionContentRemove:
		return ContentActionRemove
	case ActionContentModify:
		return ContentActionModify
	case ActionContentAccept:
		return ContentActionAccept
	default:
		return ContentActionInit
	}
}

// ToJingleAction returns the Jingle action to use when sending contents that
// changed by this content action. The passed default action is used for
// "init", i.e. when a new session is negotiated.
func (a ContentAction) ToJingleAction(defAction Action) Action {
	switch a {
	case ContentActionAdd:
		return ActionContentAdd
	case ContentActionRemove:
		return ActionContentRemove
	case ContentActionModify:
		return ActionContentModify
	case ContentActionAccept:
		return ActionContentAccept
	default:
		return defAction
	}
}
