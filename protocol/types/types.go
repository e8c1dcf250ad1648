//
//  Daemon for NimbusVPN Client Desktop
//  https://github.com/nimbusvpn/daemon
//
//  Created by NimbusVPN Team.
//  Copyright (c) 2026 NimbusVPN Limited.
//
//  This file is part of the Daemon for NimbusVPN Client Desktop.
//
//  The Daemon for NimbusVPN Client Desktop is free software: you can redistribute it and/or
//  modify it under the terms of the GNU General Public License as published by the Free
//  Software Foundation, either version 3 of the License, or (at your option) any later version.
//
//  The Daemon for NimbusVPN Client Desktop is distributed in the hope that it will be useful,
//  but WITHOUT ANY WARRANTY; without even the implied warranty of MERCHANTABILITY
//  or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU General Public License for more
//  details.
//
//  You should have received a copy of the GNU General Public License
//  along with the Daemon for NimbusVPN Client Desktop. If not, see <https://www.gnu.org/licenses/>.
//

// Package types defines the JSON messages of the daemon control protocol.
// Every message is a single JSON object on one line; the object carries
// its type name in the 'Command' field and the request index in 'Idx'
// (responses echo the index of the request they answer, notifications
// use 0).
package types

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// ClientTypeEnum - the type of a connected client
type ClientTypeEnum int

const (
	ClientUi  ClientTypeEnum = iota // 0
	ClientCli                       // 1
)

// CommandBase is a base object for all protocol commands
type CommandBase struct {
	// this field represents command type
	Command string
	// Uses for separate request\response sessions.
	// Response messages must have same Idx as request
	Idx int
}

func (c *CommandBase) Init(name string, idx int) {
	c.Command = name
	c.Idx = idx
}

func (c *CommandBase) Name() string {
	return c.Command
}

func (c *CommandBase) Index() int {
	return c.Idx
}

// LogExtraInfo - extra information for logging
func (c *CommandBase) LogExtraInfo() string {
	return ""
}

// RequestBase is the deserialized header of a client request
type RequestBase struct {
	CommandBase
}

// GetRequestBase deserializes only the command header of a raw request
func GetRequestBase(messageData []byte) (RequestBase, error) {
	var req RequestBase
	if err := json.Unmarshal(messageData, &req); err != nil {
		return req, fmt.Errorf("failed to parse request data: %w", err)
	}
	if len(req.Command) == 0 {
		return req, fmt.Errorf("request name is not defined")
	}
	return req, nil
}

// GetTypeName returns the name of a command object's type. Used to
// initialize the 'Command' field before sending.
func GetTypeName(cmd interface{}) string {
	t := reflect.TypeOf(cmd)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
