// Copyright 2025 The Flare Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fusion

import "github.com/flare-lang/flare/build/kir"

// merge builds the fused graph: the union of both node sets with the
// intermediate store/load pair elided and the consumer's uses of the
// loaded value rewired to the stored value. The intermediate buffer
// itself disappears from the signature, and so do the producer nodes
// that fed only the elided store's address computation.
func merge(producer, consumer *kir.Graph, param string) *kir.Graph {
	store, _ := soleOutputStore(producer)
	load, _ := soleParamLoad(consumer, param)
	storeNode := producer.Nodes[store.Node]

	out := &kir.Graph{
		Name:  producer.Name + "_" + consumer.Name,
		Key:   producer.Key + "+" + consumer.Key,
		Grid:  producer.Grid,
		Block: producer.Block,
	}

	// Consumer names colliding with producer names are suffixed.
	rename := renameMap(producer, consumer, param)

	// Producer nodes come in first, minus the elided store and
	// whatever becomes unreachable with it. The forwarded value stays
	// live: the consumer's uses read it.
	plive := make(map[int]bool, len(producer.Nodes))
	liveStmtNodes(producer, producer.Body, store, -1, plive)
	markLive(producer, storeNode.Args[1], -1, plive)
	pmap := make([]int, len(producer.Nodes))
	for _, n := range producer.Nodes {
		if !plive[n.ID] {
			pmap[n.ID] = -1
			continue
		}
		c := cloneNode(n)
		c.Args = remapArgs(n.Args, pmap, -1, -1)
		pmap[n.ID] = out.NewNode(c)
	}
	forwarded := pmap[storeNode.Args[1]]

	// Consumer nodes follow, minus the elided load; its uses read the
	// forwarded value instead, and its address arithmetic dies with it.
	clive := make(map[int]bool, len(consumer.Nodes))
	liveStmtNodes(consumer, consumer.Body, nil, load.ID, clive)
	cmap := make([]int, len(consumer.Nodes))
	for _, n := range consumer.Nodes {
		if n.ID == load.ID {
			cmap[n.ID] = forwarded
			continue
		}
		if !clive[n.ID] {
			cmap[n.ID] = -1
			continue
		}
		c := cloneNode(n)
		c.Args = remapArgs(n.Args, cmap, load.ID, forwarded)
		if c.Op == kir.OpLocal {
			c.Lit = renamed(rename, c.Lit)
		}
		c.Buffer = renamed(rename, c.Buffer)
		cmap[n.ID] = out.NewNode(c)
	}

	out.Params = append(out.Params, producer.Params...)
	for _, buf := range consumer.Params {
		if buf.Name == param {
			continue
		}
		buf.Name = renamed(rename, buf.Name)
		out.Params = append(out.Params, buf)
	}
	out.Scalars = append(out.Scalars, producer.Scalars...)
	for _, p := range consumer.Scalars {
		p.Name = renamed(rename, p.Name)
		out.Scalars = append(out.Scalars, p)
	}
	out.Shared = append(out.Shared, producer.Shared...)
	for _, buf := range consumer.Shared {
		buf.Name = renamed(rename, buf.Name)
		out.Shared = append(out.Shared, buf)
	}
	if consumer.Output != nil {
		o := *consumer.Output
		out.Output = &o
	}

	for _, stmt := range producer.Body {
		if stmt == kir.Stmt(store) {
			continue
		}
		out.Body = append(out.Body, remapStmt(stmt, pmap, nil))
	}
	for _, stmt := range consumer.Body {
		out.Body = append(out.Body, remapStmt(stmt, cmap, rename))
	}

	for _, guard := range producer.Guards {
		if producer.Output != nil && guard.Buffer == producer.Output.Name {
			continue
		}
		out.Guards = append(out.Guards, guard)
	}
	for _, guard := range consumer.Guards {
		if guard.Buffer == param {
			continue
		}
		guard.Buffer = renamed(rename, guard.Buffer)
		out.Guards = append(out.Guards, guard)
	}
	return out
}

// renameMap suffixes every consumer name that collides with a
// producer name. The fused parameter and the output name are exempt:
// the former disappears, the latter is the builtin result name.
// Replacement names avoid every name of both graphs, so a rename
// never collides with another consumer name.
func renameMap(producer, consumer *kir.Graph, param string) map[string]string {
	producerNames := graphNames(producer)
	taken := graphNames(consumer)
	for name := range producerNames {
		taken[name] = true
	}

	rename := map[string]string{}
	claim := func(name string) {
		if name == param || name == "output" || !producerNames[name] {
			return
		}
		next := name + "_f"
		for taken[next] {
			next += "_f"
		}
		rename[name] = next
		taken[next] = true
	}
	for _, buf := range consumer.Params {
		claim(buf.Name)
	}
	for _, p := range consumer.Scalars {
		claim(p.Name)
	}
	for _, buf := range consumer.Shared {
		claim(buf.Name)
	}
	locals := map[string]bool{}
	collectLocalNames(consumer.Body, locals)
	for name := range locals {
		claim(name)
	}
	return rename
}

func graphNames(g *kir.Graph) map[string]bool {
	names := map[string]bool{}
	for _, buf := range g.Params {
		names[buf.Name] = true
	}
	for _, p := range g.Scalars {
		names[p.Name] = true
	}
	for _, buf := range g.Shared {
		names[buf.Name] = true
	}
	collectLocalNames(g.Body, names)
	return names
}

// liveStmtNodes marks the value nodes rooted in the statements,
// skipping the elided store. A node matching stop is marked live but
// its arguments are not: the merge replaces it wholesale.
func liveStmtNodes(g *kir.Graph, stmts []kir.Stmt, skip *kir.Store, stop int, live map[int]bool) {
	for _, stmt := range stmts {
		switch stmt := stmt.(type) {
		case *kir.Decl:
			markLive(g, stmt.Init, stop, live)
		case *kir.Assign:
			markLive(g, stmt.Value, stop, live)
		case *kir.Store:
			if stmt == skip {
				continue
			}
			markLive(g, stmt.Node, stop, live)
		case *kir.Loop:
			markLive(g, stmt.From, stop, live)
			markLive(g, stmt.To, stop, live)
			liveStmtNodes(g, stmt.Body, skip, stop, live)
		case *kir.If:
			markLive(g, stmt.Cond, stop, live)
			liveStmtNodes(g, stmt.Then, skip, stop, live)
			liveStmtNodes(g, stmt.Else, skip, stop, live)
		case *kir.Barrier:
			markLive(g, stmt.Node, stop, live)
		}
	}
}

func markLive(g *kir.Graph, id, stop int, live map[int]bool) {
	if id < 0 || live[id] {
		return
	}
	live[id] = true
	if id == stop {
		return
	}
	for _, arg := range g.Nodes[id].Args {
		markLive(g, arg, stop, live)
	}
}

func collectLocalNames(stmts []kir.Stmt, out map[string]bool) {
	for _, stmt := range stmts {
		switch stmt := stmt.(type) {
		case *kir.Decl:
			out[stmt.Name] = true
		case *kir.Loop:
			out[stmt.Var] = true
			collectLocalNames(stmt.Body, out)
		case *kir.If:
			collectLocalNames(stmt.Then, out)
			collectLocalNames(stmt.Else, out)
		}
	}
}

func renamed(rename map[string]string, name string) string {
	if next, ok := rename[name]; ok {
		return next
	}
	return name
}

func cloneNode(n *kir.Node) *kir.Node {
	c := *n
	c.Args = append([]int(nil), n.Args...)
	c.Dims = append([]int64(nil), n.Dims...)
	c.Clamp = append([]bool(nil), n.Clamp...)
	return &c
}

func remapArgs(args []int, idmap []int, elided, forwarded int) []int {
	out := make([]int, len(args))
	for i, arg := range args {
		if arg == elided {
			out[i] = forwarded
			continue
		}
		out[i] = idmap[arg]
	}
	return out
}

func remapStmt(stmt kir.Stmt, idmap []int, rename map[string]string) kir.Stmt {
	mapped := func(id int) int {
		if id < 0 {
			return id
		}
		return idmap[id]
	}
	switch stmt := stmt.(type) {
	case *kir.Decl:
		return &kir.Decl{Name: renamed(rename, stmt.Name), Kind: stmt.Kind, Init: mapped(stmt.Init)}
	case *kir.Assign:
		return &kir.Assign{Name: renamed(rename, stmt.Name), Value: mapped(stmt.Value)}
	case *kir.Store:
		return &kir.Store{Node: mapped(stmt.Node)}
	case *kir.Loop:
		body := make([]kir.Stmt, 0, len(stmt.Body))
		for _, s := range stmt.Body {
			body = append(body, remapStmt(s, idmap, rename))
		}
		return &kir.Loop{
			Var:  renamed(rename, stmt.Var),
			Kind: stmt.Kind,
			From: mapped(stmt.From),
			To:   mapped(stmt.To),
			Body: body,
		}
	case *kir.If:
		then := make([]kir.Stmt, 0, len(stmt.Then))
		for _, s := range stmt.Then {
			then = append(then, remapStmt(s, idmap, rename))
		}
		els := make([]kir.Stmt, 0, len(stmt.Else))
		for _, s := range stmt.Else {
			els = append(els, remapStmt(s, idmap, rename))
		}
		return &kir.If{Cond: mapped(stmt.Cond), Then: then, Else: els}
	case *kir.Barrier:
		return &kir.Barrier{Node: mapped(stmt.Node)}
	}
	return stmt
}
