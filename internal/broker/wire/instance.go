package wire

import "querybroker/internal/broker/model"

// EncodeInstanceRequest serializes req into a length-prefixed frame. Per
// spec 4.6 the serializer is not shared across concurrent calls: each call
// here constructs its own encoder.
func EncodeInstanceRequest(req *model.InstanceRequest) []byte {
	e := newEncoder()
	e.putInt64(req.RequestID)
	e.putString(req.BrokerID)
	e.putBool(req.TraceEnabled)
	e.putStringSlice(req.SegmentNames)
	putBrokerRequest(e, req.Query)
	return e.frame()
}

// DecodeInstanceRequest is the server-side counterpart: it is exercised by
// this package's tests to validate the framing round-trips, and stands in
// for the per-server execution engine's request decoding (out of scope per
// spec section 1).
func DecodeInstanceRequest(data []byte) (*model.InstanceRequest, error) {
	d, err := unframe(data)
	if err != nil {
		return nil, err
	}

	req := &model.InstanceRequest{}
	if req.RequestID, err = d.getInt64(); err != nil {
		return nil, err
	}
	if req.BrokerID, err = d.getString(); err != nil {
		return nil, err
	}
	if req.TraceEnabled, err = d.getBool(); err != nil {
		return nil, err
	}
	if req.SegmentNames, err = d.getStringSlice(); err != nil {
		return nil, err
	}
	if req.Query, err = getBrokerRequest(d); err != nil {
		return nil, err
	}
	return req, nil
}

func putBrokerRequest(e *encoder, r *model.BrokerRequest) {
	e.putString(r.Table)
	e.putInt32(int32(r.Format))
	e.putString(r.HashKey)
	e.putBool(r.Trace)

	e.putBool(r.Selection != nil)
	if r.Selection != nil {
		e.putStringSlice(r.Selection.Columns)
		e.putInt32(int32(r.Selection.Size))
		e.putInt32(int32(len(r.Selection.Sort)))
		for _, s := range r.Selection.Sort {
			e.putString(s.Column)
			e.putBool(s.Descending)
		}
	}

	e.putInt32(int32(len(r.Aggregations)))
	for _, a := range r.Aggregations {
		e.putString(string(a.Function))
		e.putString(a.Column)
		e.putString(a.Arg)
	}

	e.putBool(r.GroupBy != nil)
	if r.GroupBy != nil {
		e.putStringSlice(r.GroupBy.Expressions)
		e.putInt32(int32(r.GroupBy.TopN))
	}

	e.putBool(r.Filter != nil)
	if r.Filter != nil {
		e.putInt32(r.Filter.RootID)
		e.putInt32(int32(len(r.Filter.Nodes)))
		for _, node := range r.Filter.Nodes {
			e.putInt32(node.ID)
			e.putInt32(int32(node.Operator))
			e.putString(node.Column)
			e.putStringSlice(node.Values)
			e.putInt32Slice(node.ChildIDs)
		}
	}

	e.putInt32(int32(len(r.DebugOptions)))
	for k, v := range r.DebugOptions {
		e.putString(k)
		e.putString(v)
	}
}

func getBrokerRequest(d *decoder) (*model.BrokerRequest, error) {
	r := &model.BrokerRequest{}

	var err error
	if r.Table, err = d.getString(); err != nil {
		return nil, err
	}
	format, err := d.getInt32()
	if err != nil {
		return nil, err
	}
	r.Format = model.ResponseFormat(format)
	if r.HashKey, err = d.getString(); err != nil {
		return nil, err
	}
	if r.Trace, err = d.getBool(); err != nil {
		return nil, err
	}

	hasSelection, err := d.getBool()
	if err != nil {
		return nil, err
	}
	if hasSelection {
		sel := &model.Selection{}
		if sel.Columns, err = d.getStringSlice(); err != nil {
			return nil, err
		}
		size, err := d.getInt32()
		if err != nil {
			return nil, err
		}
		sel.Size = int(size)
		sortCount, err := d.getInt32()
		if err != nil {
			return nil, err
		}
		sel.Sort = make([]model.SortColumn, sortCount)
		for i := range sel.Sort {
			if sel.Sort[i].Column, err = d.getString(); err != nil {
				return nil, err
			}
			if sel.Sort[i].Descending, err = d.getBool(); err != nil {
				return nil, err
			}
		}
		r.Selection = sel
	}

	aggCount, err := d.getInt32()
	if err != nil {
		return nil, err
	}
	if aggCount > 0 {
		r.Aggregations = make([]model.AggregationInfo, aggCount)
		for i := range r.Aggregations {
			fn, err := d.getString()
			if err != nil {
				return nil, err
			}
			r.Aggregations[i].Function = model.AggregationFunction(fn)
			if r.Aggregations[i].Column, err = d.getString(); err != nil {
				return nil, err
			}
			if r.Aggregations[i].Arg, err = d.getString(); err != nil {
				return nil, err
			}
		}
	}

	hasGroupBy, err := d.getBool()
	if err != nil {
		return nil, err
	}
	if hasGroupBy {
		gb := &model.GroupByInfo{}
		if gb.Expressions, err = d.getStringSlice(); err != nil {
			return nil, err
		}
		topN, err := d.getInt32()
		if err != nil {
			return nil, err
		}
		gb.TopN = int(topN)
		r.GroupBy = gb
	}

	hasFilter, err := d.getBool()
	if err != nil {
		return nil, err
	}
	if hasFilter {
		filter := model.NewFilterSubQueryMap()
		rootID, err := d.getInt32()
		if err != nil {
			return nil, err
		}
		filter.RootID = rootID
		nodeCount, err := d.getInt32()
		if err != nil {
			return nil, err
		}
		for i := int32(0); i < nodeCount; i++ {
			node := &model.FilterQuery{}
			if node.ID, err = d.getInt32(); err != nil {
				return nil, err
			}
			op, err := d.getInt32()
			if err != nil {
				return nil, err
			}
			node.Operator = model.FilterOperator(op)
			if node.Column, err = d.getString(); err != nil {
				return nil, err
			}
			if node.Values, err = d.getStringSlice(); err != nil {
				return nil, err
			}
			if node.ChildIDs, err = d.getInt32Slice(); err != nil {
				return nil, err
			}
			filter.Nodes[node.ID] = node
		}
		r.Filter = filter
	}

	debugCount, err := d.getInt32()
	if err != nil {
		return nil, err
	}
	if debugCount > 0 {
		r.DebugOptions = make(map[string]string, debugCount)
		for i := int32(0); i < debugCount; i++ {
			k, err := d.getString()
			if err != nil {
				return nil, err
			}
			v, err := d.getString()
			if err != nil {
				return nil, err
			}
			r.DebugOptions[k] = v
		}
	}

	return r, nil
}
