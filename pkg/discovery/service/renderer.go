package service

import (
	"time"

	"github.com/ContinuousC/JaegerDiscovery/pkg/discovery/model"
	"github.com/ContinuousC/JaegerDiscovery/pkg/discovery/state"
	"github.com/google/uuid"
)

// hostsRelationNamespace seeds the deterministic ids of service → operation
// hosts relations, so the same pair renders the same edge id on every tick.
var hostsRelationNamespace = uuid.MustParse("76d029cc-9d24-4a73-82b4-9e5418c3c464")

// RenderTopology snapshots the live services and operations into the
// items-and-relations payload for the relation-graph service. It is a pure
// function of the state and never mutates it.
func RenderTopology(st *state.State) *model.Topology {
	items := make(map[uuid.UUID]model.Item)
	relations := make(map[uuid.UUID]model.Relation)

	for key, svc := range st.Services {
		properties := map[string]interface{}{
			"service_name": key.Name,
			"last_seen":    svc.LastSeen.UTC().Format(time.RFC3339Nano),
		}
		if key.Namespace != "" {
			properties["service_namespace"] = key.Namespace
		}
		if key.InstanceID != "" {
			properties["service_instance_id"] = key.InstanceID
		}
		for k, v := range svc.Meta {
			properties[k] = v
		}
		items[svc.ID] = model.Item{
			ItemType:   model.ItemTypeService,
			Properties: properties,
		}

		for name, op := range svc.Operations {
			parentID := svc.ID
			items[op.ID] = model.Item{
				ItemType: model.ItemTypeOperation,
				Parent:   &parentID,
				Properties: map[string]interface{}{
					"operation_name": string(name),
					"last_seen":      op.LastSeen.UTC().Format(time.RFC3339Nano),
				},
			}
			relations[hostsRelationID(svc.ID, op.ID)] = model.Relation{
				RelationType: model.RelationTypeHosts,
				Source:       svc.ID,
				Target:       op.ID,
			}
		}
	}

	for _, svc := range st.Services {
		for target, rel := range svc.Calls {
			if st.ServiceByID(target) == nil {
				continue
			}
			relations[rel.ID] = model.Relation{
				RelationType: model.RelationTypeCalls,
				Source:       svc.ID,
				Target:       target,
			}
		}
		for _, op := range svc.Operations {
			for target, rel := range op.Calls {
				if st.OperationByID(target) == nil {
					continue
				}
				relations[rel.ID] = model.Relation{
					RelationType: model.RelationTypeCalls,
					Source:       op.ID,
					Target:       target,
				}
			}
		}
	}

	return &model.Topology{
		Domain: model.Domain{
			Types: model.TypeSet{
				Items:     []string{model.ItemTypeService, model.ItemTypeOperation},
				Relations: []string{model.RelationTypeCalls, model.RelationTypeHosts},
			},
		},
		Items: model.World{
			Items:     items,
			Relations: relations,
		},
	}
}

func hostsRelationID(serviceID, operationID uuid.UUID) uuid.UUID {
	seed := make([]byte, 0, 32)
	seed = append(seed, serviceID[:]...)
	seed = append(seed, operationID[:]...)
	return uuid.NewSHA1(hostsRelationNamespace, seed)
}
